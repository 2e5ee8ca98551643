package session

// State is a login controller state.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateChallengePending
	StateSessionEstablishing
	StateSessionActive
	StateBackoff
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateChallengePending:
		return "challenge_pending"
	case StateSessionEstablishing:
		return "session_establishing"
	case StateSessionActive:
		return "session_active"
	case StateBackoff:
		return "backoff"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Internal queue events. Account client notifications arrive as
// models.AccountEvent; these are produced by the controller itself.
// attempt is the login attempt the event belongs to; 0 means the current one.
type challengeAnswer struct {
	code    string
	attempt int
}

type promptFailed struct {
	err     error
	attempt int
}
