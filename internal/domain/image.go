package domain

// A normalized image identifier. Doubles as the cache key.
type LoadKey string

type LoadStatus int

const (
	StatusPending LoadStatus = iota
	StatusReady
	StatusFailed
)

func (s LoadStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

func (s LoadStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

// What a rendering consumer sees for a single image
type LoadState struct {
	Src     string
	Loading bool
	Error   bool
	// Human readable failure description, only set when Error is true
	Message string
}

func PendingState() LoadState {
	return LoadState{Loading: true}
}

func ReadyState(src string) LoadState {
	return LoadState{Src: src}
}

func FailedState(message string) LoadState {
	return LoadState{Error: true, Message: message}
}

func (s LoadState) Status() LoadStatus {
	switch {
	case s.Error:
		return StatusFailed
	case s.Loading:
		return StatusPending
	default:
		return StatusReady
	}
}
