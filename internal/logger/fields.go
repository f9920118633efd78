package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through ctx.
const (
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldJobKind   = "job_kind"
	FieldUserID    = "user_id"
	FieldComponent = "component"
	FieldSource    = "source"
	FieldBranch    = "branch"
	FieldPaperID   = "paper_id"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
	FieldSize       = "size"
	FieldCacheHit   = "cache_hit"
	FieldFallback   = "fallback"
)
