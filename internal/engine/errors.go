package engine

import "errors"

var (
	// ErrEngineStart reports a failed launch or handshake. The current
	// invocation's batch is unusable but claimed jobs stay recoverable
	// via the stale-lease reaper.
	ErrEngineStart = errors.New("engine failed to start")
	// ErrEngineCrash reports process death mid-evaluation. All pending
	// callers are rejected; the supervisor is not restarted.
	ErrEngineCrash = errors.New("engine process died")
	// ErrEngineStopped is returned to callers racing a deliberate Stop.
	ErrEngineStopped = errors.New("engine stopped")
)
