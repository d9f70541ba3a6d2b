// Package userws defines the JSON message shapes carried over Core's
// user-facing WebSocket endpoints, /ws/terminal and /ws/update.
// Unlike the Core<->Periphery link (internal/wire's binary TransportMessage
// framing, authenticated by Noise XX), a user's browser or fleetctl session
// authenticates with a JWT or API key pair and exchanges plain JSON text
// frames for control messages; only a terminal's raw stdin/stdout bytes
// travel as WebSocket binary frames.
package userws

// LoginRequest is the pre-flight first message every user WebSocket
// session sends: a login JSON of type "jwt" or "api-key".
type LoginRequest struct {
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	Key    string `json:"key,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// LoggedInText is the exact text reply on successful login: "reply is text
// LOGGED_IN on success".
const LoggedInText = "LOGGED_IN"

// OpenTerminalRequest is the second message on /ws/terminal: which Server
// and which terminal (plain or container exec/attach) to connect to. It is
// carried over the user link instead of directly specifying a
// ConnectTerminal wire request so Core can resolve permissions and the
// target Periphery first.
type OpenTerminalRequest struct {
	Server        string   `json:"server"`
	Name          string   `json:"name"`
	Command       []string `json:"command,omitempty"`
	Dir           string   `json:"dir,omitempty"`
	Recreation    int      `json:"recreation,omitempty"`
	Container     string   `json:"container,omitempty"`
	ContainerMode int      `json:"containerMode,omitempty"`
	Shell         string   `json:"shell,omitempty"`
}

// ControlMessage is any JSON text frame a user sends on /ws/terminal after
// the terminal is open. Exactly one field is set.
type ControlMessage struct {
	Resize *ResizePayload `json:"resize,omitempty"`
}

type ResizePayload struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// SubscribeUpdateRequest is the second message on /ws/update: which Update
// document to stream state for.
type SubscribeUpdateRequest struct {
	UpdateID string `json:"updateId"`
}
