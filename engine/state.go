package engine

// State is the lifecycle position of a SourceRunner.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateDecoding
	StateTransforming
	StateDelivered
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDecoding:
		return "decoding"
	case StateTransforming:
		return "transforming"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateDelivered, StateFailed, StateCancelled:
		return true
	}
	return false
}

// next is the only forward transition allowed from each running state.
var next = map[State]State{
	StateIdle:         StateFetching,
	StateFetching:     StateDecoding,
	StateDecoding:     StateTransforming,
	StateTransforming: StateDelivered,
}
