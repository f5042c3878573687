package contextkeys

type key string

const (
	RequestIDKey key = "request_id"
	Subject      key = "subject"
	ProjectID    key = "project_id"
)
