package session

// State is a step of the send-observe-act cycle.
type State int

const (
	Init State = iota
	SendObservation
	WaitAction
	ApplyAction
	CheckTermination
	Reset
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case SendObservation:
		return "send_observation"
	case WaitAction:
		return "wait_action"
	case ApplyAction:
		return "apply_action"
	case CheckTermination:
		return "check_termination"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// Mode selects what happens between receiving a reply and sending the
// next message.
type Mode string

const (
	// ModeDrive steps the environment with the controller's action.
	ModeDrive Mode = "drive"
	// ModeEcho sends the reply straight back; it only exercises the
	// protocol.
	ModeEcho Mode = "echo"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDrive, "":
		return ModeDrive, nil
	case ModeEcho:
		return ModeEcho, nil
	default:
		return "", errUnknownMode(s)
	}
}
