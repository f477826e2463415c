package bridge

import (
	"fmt"
	"strings"
	"time"
)

// RoutingError means no connection exists for the requested (or default)
// browser family. It is surfaced to the caller immediately and never retried.
type RoutingError struct {
	Requested BrowserType // empty when no default target existed
	Connected []BrowserType
}

func (e *RoutingError) Error() string {
	if e.Requested == "" {
		return "no browser connected"
	}
	if len(e.Connected) == 0 {
		return fmt.Sprintf("%s is not connected (no browsers connected)", e.Requested)
	}
	names := make([]string, len(e.Connected))
	for i, t := range e.Connected {
		names[i] = string(t)
	}
	return fmt.Sprintf("%s is not connected (connected: %s)", e.Requested, strings.Join(names, ", "))
}

// TimeoutError means a command was sent but no response arrived within the
// window. The action may still complete on the extension side; only the wait
// was abandoned.
type TimeoutError struct {
	Browser BrowserType
	Action  string
	Window  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response from %s for %s after %s", e.Browser, e.Action, e.Window)
}

// ExtensionError carries an error message the extension explicitly returned
// for a command id. The message propagates verbatim.
type ExtensionError struct {
	Browser BrowserType
	Message string
}

func (e *ExtensionError) Error() string { return e.Message }
