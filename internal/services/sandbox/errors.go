package sandbox

import "fmt"

// Reason classifies a script failure
type Reason string

const (
	ReasonCompile Reason = "compile"
	ReasonRuntime Reason = "runtime"
	ReasonTimeout Reason = "timeout"
	// ReasonPolicy covers attempts to terminate the process and exhausted cost budgets
	ReasonPolicy Reason = "policy"
	// ReasonResult means the script finished but its value does not fit the target field
	ReasonResult Reason = "result"
)

// ScriptError is returned for every failed script invocation
type ScriptError struct {
	Reason Reason
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("migration script %s error: %v", e.Reason, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}
