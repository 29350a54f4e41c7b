package circuitbreaker

type State int

const (
	// Calls reach the upstream
	StateClosed State = iota

	// Calls fail fast with ErrCircuitOpen
	StateOpen

	// A single probe call is allowed through
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
