package model

import "time"

// AuditEntry captures an operation against the control plane.
type AuditEntry struct {
	ID        string        `json:"id"`
	Actor     string        `json:"actor"`
	Action    string        `json:"action"`
	Target    string        `json:"target"`
	Detail    string        `json:"detail,omitempty"`
	Outcomes  []StepOutcome `json:"outcomes,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
