package analysis

import "errors"

// Failure taxonomy shared across the queue, evaluator and worker.
// Job-level failures are recorded on the job row; store-level failures
// propagate to the caller of the current invocation.
var (
	// ErrNotFound is returned by stores when the requested row is absent.
	ErrNotFound = errors.New("not found")
	// ErrMissingGame marks a job whose game vanished; the job fails
	// without a result row being written.
	ErrMissingGame = errors.New("game no longer exists")
	// ErrInvalidGame marks unparseable or illegal move text; not retried.
	ErrInvalidGame = errors.New("invalid game moves")
)
