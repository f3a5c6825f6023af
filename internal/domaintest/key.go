package domaintest

import (
	"fmt"
	"testing"

	"github.com/Amund211/lazyimage/internal/domain"
)

// A unique, already normalized key for tests that share a cache
func NewKey(t *testing.T) domain.LoadKey {
	return domain.LoadKey(fmt.Sprintf("img://test/%s", NewUUID(t)))
}
