package logger

// Standard field names.
const (
	FieldComponent     = "component"
	FieldService       = "service"
	FieldCorrelationID = "correlation_id"
	FieldQueue         = "queue"
	FieldAction        = "action"
	FieldError         = "error"
	FieldReason        = "reason"
	FieldDuration      = "duration_ms"
	FieldPending       = "pending"
)
