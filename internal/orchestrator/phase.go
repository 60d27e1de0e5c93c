package orchestrator

import "fmt"

// Phase is the lifecycle position of one write operation.
type Phase uint8

const (
	Idle Phase = iota
	Submitting
	Submitted
	Confirming
	Confirmed
	Failed
)

var phaseNames = [...]string{
	Idle:       "Idle",
	Submitting: "Submitting",
	Submitted:  "Submitted",
	Confirming: "Confirming",
	Confirmed:  "Confirmed",
	Failed:     "Failed",
}

func (p Phase) String() string {
	if int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", p)
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

var transitions = map[Phase][]Phase{
	Idle:       {Submitting},
	Submitting: {Submitted, Failed},
	Submitted:  {Confirming, Failed},
	Confirming: {Confirmed, Failed},
}

func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal phases end an operation instance; a new action needs a reset.
func (p Phase) Terminal() bool {
	return p == Confirmed || p == Failed
}
