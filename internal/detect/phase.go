package detect

// Phase is the coordinator's detection state. It is owned exclusively by
// the coordinator worker; everyone else reads it through Coordinator.Phase.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseAcquiring
	PhaseLocked
	PhaseConfirming
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAcquiring:
		return "acquiring"
	case PhaseLocked:
		return "locked"
	case PhaseConfirming:
		return "confirming"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
