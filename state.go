package session

// Status tracks whether the provider has reported the session at least once.
type Status int

const (
	// StatusLoading means the provider has not reported yet.
	StatusLoading Status = iota
	// StatusReady means the provider reported at least once.
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	default:
		return "loading"
	}
}

// MarshalText renders the status as "loading" or "ready".
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a point in time snapshot of the session.
type State struct {
	Identity *Identity `json:"identity"`
	Status   Status    `json:"status"`
}

// Ready reports whether the provider has reported at least once.
func (s State) Ready() bool {
	return s.Status == StatusReady
}

// Authenticated is false while loading, even if an identity is present.
func (s State) Authenticated() bool {
	return s.Ready() && s.Identity != nil
}

func (s State) clone() State {
	return State{Identity: s.Identity.Clone(), Status: s.Status}
}
