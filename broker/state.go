package broker

// State is the lifecycle of a Manager.
//
//	Uninitialized ──Start──→ Connecting ──ok──→ Ready ──Disable / loss──→ Disabled
//	      ↑                      │                                          │
//	      └──────── failure ─────┘←───────────────── Start ─────────────────┘
//	any ──Close──→ Closed (terminal)
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateDisabled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDisabled:
		return "disabled"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
