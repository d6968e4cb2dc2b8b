package oerr

// Code classifies orchestration failures. Codes are part of the engine's
// caller-facing contract: hosts branch on them with IsCode rather than on
// message text.
type Code int

const (
	OK                = Code(0)
	Unknown           = Code(1)
	DuplicateAgent    = Code(2)
	AgentBusy         = Code(3)
	UnknownAgent      = Code(4)
	UnknownTask       = Code(5)
	UnknownWorkflow   = Code(6)
	InvalidDefinition = Code(7)
	RetriesExhausted  = Code(8)
	IterationLimit    = Code(9)
	Executor          = Code(10)
	DependencyFailed  = Code(11)
	Internal          = Code(12)
)

var codeNames = map[Code]string{
	OK:                "ok",
	Unknown:           "unknown",
	DuplicateAgent:    "duplicate_agent",
	AgentBusy:         "agent_busy",
	UnknownAgent:      "unknown_agent",
	UnknownTask:       "unknown_task",
	UnknownWorkflow:   "unknown_workflow",
	InvalidDefinition: "invalid_definition",
	RetriesExhausted:  "retries_exhausted",
	IterationLimit:    "iteration_limit_exceeded",
	Executor:          "executor_error",
	DependencyFailed:  "dependency_failed",
	Internal:          "internal",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

// captureStack reports whether errors with this code should carry a stack
// trace. Caller mistakes (duplicate registration, bad lookups) do not; only
// codes that indicate something went wrong inside the engine or the executor.
func (c Code) captureStack() bool {
	switch c {
	case Unknown, Executor, Internal:
		return true
	}
	return false
}
