package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Amund211/lazyimage/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestCategorizeError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		expected domain.ErrorCategory
	}{
		{name: "nil", err: nil, expected: domain.ErrorCategoryNone},
		{name: "network", err: domain.ErrNetwork, expected: domain.ErrorCategoryNetwork},
		{name: "wrapped network", err: fmt.Errorf("failed to send request: %w", domain.ErrNetwork), expected: domain.ErrorCategoryNetwork},
		{name: "decode", err: fmt.Errorf("%w: not an image", domain.ErrDecode), expected: domain.ErrorCategoryDecode},
		{name: "not found", err: fmt.Errorf("status 404: %w", domain.ErrNotFound), expected: domain.ErrorCategoryNotFound},
		{name: "unknown", err: errors.New("something else"), expected: domain.ErrorCategoryUnknown},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, c.expected, domain.CategorizeError(c.err))
		})
	}
}

func TestLoadState(t *testing.T) {
	t.Parallel()

	t.Run("pending", func(t *testing.T) {
		t.Parallel()
		state := domain.PendingState()
		require.Equal(t, domain.StatusPending, state.Status())
		require.False(t, state.Status().IsTerminal())
		require.Empty(t, state.Src)
	})

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		state := domain.ReadyState("blob:A-resolved")
		require.Equal(t, domain.LoadState{Src: "blob:A-resolved"}, state)
		require.Equal(t, domain.StatusReady, state.Status())
		require.True(t, state.Status().IsTerminal())
	})

	t.Run("failed", func(t *testing.T) {
		t.Parallel()
		state := domain.FailedState("network error")
		require.Equal(t, domain.LoadState{Error: true, Message: "network error"}, state)
		require.Equal(t, domain.StatusFailed, state.Status())
		require.Equal(t, "failed", state.Status().String())
	})
}
