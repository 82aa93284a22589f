package failure

type Severity int

// pipeline control flow
const (
	SeverityFatal Severity = iota
	SeverityRecoverable
)

// ClassifiedError is the error contract shared by every pipeline stage.
// Stages classify failures; only the scheduler decides what to do with them.
type ClassifiedError interface {
	error
	Severity() Severity
}
