package supervisor

import "encoding/json"

// Status is the derived lifecycle state of an instance. Levels are
// strictly ordered: each one implies all the ones below it.
type Status int

const (
	StatusRemoved Status = iota
	StatusExists
	StatusCreated
	StatusRunning
	StatusStarting
	StatusHealthy
)

var statusNames = map[Status]string{
	StatusRemoved:  "REMOVED",
	StatusExists:   "EXISTS",
	StatusCreated:  "CREATED",
	StatusRunning:  "RUNNING",
	StatusStarting: "STARTING",
	StatusHealthy:  "HEALTHY",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalJSON keeps the wire form as the status name
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// AtLeast reports whether the status reaches the given level
func (s Status) AtLeast(level Status) bool {
	return s >= level
}
