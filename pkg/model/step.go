package model

// StepOutcome records the result of one step of a best-effort operation.
type StepOutcome struct {
	Step  string `json:"step"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewOutcome builds a StepOutcome from an error.
func NewOutcome(step string, err error) StepOutcome {
	if err != nil {
		return StepOutcome{Step: step, Error: err.Error()}
	}
	return StepOutcome{Step: step, OK: true}
}

// Failed returns the outcomes that did not succeed.
func Failed(outcomes []StepOutcome) []StepOutcome {
	var out []StepOutcome
	for _, o := range outcomes {
		if !o.OK {
			out = append(out, o)
		}
	}
	return out
}
