package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType names the machine-readable event a log line describes.
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next step for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldRunID identifies one daemon run across detach.
	FieldRunID = "run_id"
	// FieldEndpoint names a listener endpoint such as "tcp6".
	FieldEndpoint = "endpoint"
	// FieldPeer is the remote address of a captured message.
	FieldPeer = "peer"
	// FieldPath is a filesystem path the event refers to.
	FieldPath = "path"
	// FieldState is a lifecycle controller state.
	FieldState = "state"
	// FieldPID is a process id.
	FieldPID = "pid"
	// FieldImpact says what a warning costs the operator.
	FieldImpact = "impact"
)
