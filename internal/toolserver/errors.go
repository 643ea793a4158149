package toolserver

import (
	"encoding/json"
	"errors"
)

// ErrorKind is the three-way taxonomy a failed call surfaces to the
// Agent Turn Executor, per §4.4's failure semantics.
type ErrorKind string

const (
	ErrTimeout   ErrorKind = "timeout"
	ErrTransport ErrorKind = "transport"
	ErrProtocol  ErrorKind = "protocol"
)

// ToolError is returned by Call when the tool server could not produce a
// result. The caller serializes Detail into a tool-role message so the
// model can react to it directly.
type ToolError struct {
	Kind   ErrorKind
	Detail string
}

func (e *ToolError) Error() string { return string(e.Kind) + ": " + e.Detail }

// ErrServerNotFound is returned by Stop and Restart for an unknown server
// name. Call reports a tool with no owning server as a *ToolError of kind
// ErrProtocol instead.
var ErrServerNotFound = errors.New("toolserver: server not found")

// ErrServerNotReady names the not-ready condition. Call does not return
// it: a call to a server that is not ready is reported as a *ToolError of
// kind ErrTransport.
var ErrServerNotReady = errors.New("toolserver: server not ready")

func marshalSchema(schema any) (json.RawMessage, error) {
	if schema == nil {
		return nil, nil
	}
	return json.Marshal(schema)
}
