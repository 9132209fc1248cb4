package proctor

// State is the fullscreen session state of one exam attempt.
type State int

const (
	NotStarted State = iota
	Active
	ExitedPendingForfeit
	Forfeited
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Active:
		return "active"
	case ExitedPendingForfeit:
		return "exited_pending_forfeit"
	case Forfeited:
		return "forfeited"
	default:
		return "unknown"
	}
}

// Signal is an input to the state machine.
type Signal int

const (
	SignalStartGranted Signal = iota
	SignalStartDenied
	SignalFullscreenLost
	SignalFullscreenRegained
	SignalGraceExpired
)

func (s Signal) String() string {
	switch s {
	case SignalStartGranted:
		return "start_granted"
	case SignalStartDenied:
		return "start_denied"
	case SignalFullscreenLost:
		return "fullscreen_lost"
	case SignalFullscreenRegained:
		return "fullscreen_regained"
	case SignalGraceExpired:
		return "grace_expired"
	default:
		return "unknown"
	}
}

// Effect is the side effect a transition asks the watchdog to perform.
type Effect int

const (
	EffectNone Effect = iota
	EffectWarnDenied
	EffectStartGrace
	EffectCancelGrace
	EffectForfeit
)

// Transition is the whole state machine. Fullscreen changes seen before the
// first successful start never arm the grace timer, and Forfeited absorbs
// every signal.
func Transition(s State, sig Signal) (State, Effect) {
	switch s {
	case NotStarted:
		switch sig {
		case SignalStartGranted:
			return Active, EffectNone
		case SignalStartDenied:
			return NotStarted, EffectWarnDenied
		}
	case Active:
		if sig == SignalFullscreenLost {
			return ExitedPendingForfeit, EffectStartGrace
		}
	case ExitedPendingForfeit:
		switch sig {
		case SignalFullscreenRegained:
			return Active, EffectCancelGrace
		case SignalGraceExpired:
			return Forfeited, EffectForfeit
		}
	case Forfeited:
		return Forfeited, EffectNone
	}
	return s, EffectNone
}
