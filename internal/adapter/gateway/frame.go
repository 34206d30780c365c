package gateway

import "encoding/json"

// FrameType discriminates the three kinds of traffic on a gateway
// connection: client RPC requests, their responses, and server-pushed
// command lifecycle events.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Frame is the JSON envelope on the gateway WebSocket. A request names a
// method such as command.status and carries its params; the response
// echoes the request ID with either a result payload or an error. Event
// frames carry a serialized command lifecycle event and no ID, since
// nothing correlates them.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`      // ties a response to its request
	Method  string          `json:"method,omitempty"`  // RPC method (request only)
	Payload json.RawMessage `json:"payload,omitempty"` // params, result, or event body
	Error   string          `json:"error,omitempty"`   // failure description (response only)
}
