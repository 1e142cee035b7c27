package app

// Admin operation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AdminOperation tracks a CLI command that may change an account or the
// registry. Operations are created in memory with ID=0. Only mutating
// commands persist them, which gives them an auto-increment ID from the
// database.
type AdminOperation struct {
	ID         int64
	OpID       string // per-invocation ID, also written on every log line
	Operation  string
	Parameters string
	Status     string
}

// NewAdminOperation creates a new in-memory admin operation.
func NewAdminOperation(opID, operation, parameters string) *AdminOperation {
	return &AdminOperation{
		OpID:       opID,
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *AdminOperation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed.
func (op *AdminOperation) Fail() {
	op.Status = StatusError
}
