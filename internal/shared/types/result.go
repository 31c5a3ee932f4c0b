package types

// Outcome is the discriminated result of a lifecycle operation.
type Outcome string

const (
	// OutcomeSuccess: every step applied.
	OutcomeSuccess Outcome = "success"
	// OutcomePartial: durable artifacts are consistent but a runtime step
	// (e.g. the requested immediate start) did not complete; the caller
	// should re-check status.
	OutcomePartial Outcome = "partial"
	// OutcomeFailure: the operation failed and applied steps were rolled
	// back; the three stores are as they were before the call.
	OutcomeFailure Outcome = "failure"
)

// Result is returned by every orchestrator operation.
type Result struct {
	// OpID uniquely identifies this invocation in logs and responses.
	OpID    string  `json:"op_id"`
	Outcome Outcome `json:"outcome"`
	// App is the post-operation record, when one exists.
	App *App `json:"app,omitempty"`
	// Detail explains a partial outcome.
	Detail string `json:"detail,omitempty"`
}
