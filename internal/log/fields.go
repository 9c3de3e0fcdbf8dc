package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldErrorKind  = "error_kind"
	FieldOperation  = "operation"
	FieldKey        = "key"
	FieldPattern    = "pattern"
	FieldAttempt    = "attempt"
	FieldDelay      = "delay"
	FieldUserID     = "user_id"
	FieldRole       = "role"
	FieldCollection = "collection"
	FieldRecordID   = "record_id"
	FieldYear       = "year"
	FieldMonth      = "month"
	FieldEventID    = "event_id"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentLive       = "live"
	ComponentResilience = "resilience"
	ComponentQuery      = "query"
	ComponentCache      = "cache"
	ComponentStorage    = "storage"
	ComponentBackend    = "backend"
	ComponentAuth       = "auth"
	ComponentRecords    = "records"
	ComponentReport     = "report"
	ComponentExport     = "export"
	ComponentSheets     = "sheets"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentRateLimit  = "rate_limit"
)

// Operations defines standard operation names
const (
	OpCreate     = "create"
	OpList       = "list"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpUpload     = "upload"
	OpInvalidate = "invalidate"
	OpPersist    = "persist"
	OpRehydrate  = "rehydrate"
	OpSync       = "sync"
	OpShutdown   = "shutdown"
	OpStartup    = "startup"
)

// Fields is a small builder for structured log attributes.
type Fields map[string]any

// NewFields creates a new Fields instance
func NewFields() Fields {
	return make(Fields)
}

// WithError adds error field
func (f Fields) WithError(err error) Fields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f Fields) WithOperation(op string) Fields {
	f[FieldOperation] = op
	return f
}

// WithUser adds the acting user and role.
func (f Fields) WithUser(id, role string) Fields {
	f[FieldUserID] = id
	f[FieldRole] = role
	return f
}

// WithRecord adds the collection and record id of a mutation.
func (f Fields) WithRecord(collection, id string) Fields {
	f[FieldCollection] = collection
	if id != "" {
		f[FieldRecordID] = id
	}
	return f
}

// ToSlice converts Fields to a slice for slog
func (f Fields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
