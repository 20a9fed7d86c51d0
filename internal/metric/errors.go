package metric

// ErrorType is the closed set of user-error reasons a metric recording
// attempt can fail for (§4.8). These are recorded as labeled counters by
// the error manager, never surfaced as Go errors to application code.
type ErrorType string

const (
	ErrorInvalidValue    ErrorType = "invalid_value"
	ErrorInvalidLabel    ErrorType = "invalid_label"
	ErrorInvalidState    ErrorType = "invalid_state"
	ErrorInvalidOverflow ErrorType = "invalid_overflow"
	ErrorInvalidType     ErrorType = "invalid_type"
)

// ErrorRecorder is implemented by the error manager. Metric kinds call it
// when a recording attempt fails validation; it is never called for a
// disabled metric (disabled metrics never validate, per §3).
type ErrorRecorder interface {
	RecordError(meta Metadata, errType ErrorType)
}
