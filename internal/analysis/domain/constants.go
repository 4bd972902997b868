package domain

// JobState is the lifecycle state of an analysis job
type JobState string

// Job state constants
const (
	JobStatePending      JobState = "Pending"
	JobStateLeased       JobState = "Leased"
	JobStateSucceeded    JobState = "Succeeded"
	JobStateFailed       JobState = "Failed"
	JobStateDeadLettered JobState = "DeadLettered"
	JobStateCancelled    JobState = "Cancelled"
)

// AllJobStates lists every state in display order
var AllJobStates = []JobState{
	JobStatePending,
	JobStateLeased,
	JobStateSucceeded,
	JobStateFailed,
	JobStateDeadLettered,
	JobStateCancelled,
}

func (s JobState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition can leave s.
// DeadLettered is terminal for the pipeline; only an operator requeue moves it.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateDeadLettered, JobStateCancelled:
		return true
	default:
		return false
	}
}

// IsEligible reports whether a job in state s may be leased once its run_at has passed
func (s JobState) IsEligible() bool {
	return s == JobStatePending || s == JobStateFailed
}

// Valid reports whether s is a known state
func (s JobState) Valid() bool {
	for _, known := range AllJobStates {
		if s == known {
			return true
		}
	}
	return false
}

var allowedTransitions = map[JobState]map[JobState]bool{
	JobStatePending: {
		JobStateLeased:    true,
		JobStateCancelled: true,
	},
	JobStateFailed: {
		JobStateLeased:    true,
		JobStateCancelled: true,
	},
	JobStateLeased: {
		JobStateSucceeded:    true,
		JobStateFailed:       true,
		JobStateDeadLettered: true,
		JobStateCancelled:    true,
	},
	JobStateDeadLettered: {
		JobStatePending: true,
	},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to JobState) bool {
	return allowedTransitions[from][to]
}
