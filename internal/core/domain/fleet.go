package domain

import "time"

// Credentials are the fake login handed to a decoy.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// DecoyInstance is one running honeypot container.
type DecoyInstance struct {
	Container   RunningContainer `json:"container"`
	Credentials Credentials      `json:"credentials"`
	Port        int              `json:"port"`
	ServiceName string           `json:"service_name"`
	Monitoring  LogMonitoring    `json:"-"`
	LastCheck   time.Time        `json:"last_check"`
}

// DetectionEvent is raised when a decoy log matches its success pattern.
type DetectionEvent struct {
	ID            string    `json:"id"`
	Time          time.Time `json:"time"`
	Container     string    `json:"container"`
	ServiceName   string    `json:"service_name"`
	Port          int       `json:"port"`
	ActorIdentity string    `json:"actor_identity"`
	Source        string    `json:"source"`
}

// FleetState is the set of containers the orchestrator currently owns.
type FleetState struct {
	Production []RunningContainer `json:"production"`
	Decoys     []DecoyInstance    `json:"decoys"`
}

// Clone copies the slices so the result can be handed to readers while the
// owner keeps replacing its own state.
func (s FleetState) Clone() FleetState {
	out := FleetState{
		Production: make([]RunningContainer, len(s.Production)),
		Decoys:     make([]DecoyInstance, len(s.Decoys)),
	}
	copy(out.Production, s.Production)
	copy(out.Decoys, s.Decoys)
	return out
}
