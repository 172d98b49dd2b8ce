package model

import "fmt"

// Phase is the lifecycle phase of the supervised process.
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseBootstrapping
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ProcessState is a snapshot of the supervised process lifecycle.
type ProcessState struct {
	PID     int    `json:"pid"`
	Phase   Phase  `json:"phase"`
	Percent int    `json:"percent"`
	Error   string `json:"error,omitempty"`
}
