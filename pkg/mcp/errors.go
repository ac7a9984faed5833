package mcp

import "fmt"

// ConnectionError reports a failure to establish a session. Stale-session
// probe failures are never wrapped in it — those are recovered silently by
// reconnecting on the next acquire.
type ConnectionError struct {
	ServerID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcp: connect to server %q: %v", e.ServerID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
