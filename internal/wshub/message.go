package wshub

// Kind is the subscription target type (spec §4.H).
type Kind string

const (
	KindProcess Kind = "process"
	KindSession Kind = "session"
)

// ClientMessage is a message received from a WebSocket client (spec §4.H
// "Accepted messages from client").
type ClientMessage struct {
	Action   string `json:"action"`
	Type     Kind   `json:"type,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

// logPayload is the nested "log" object of a server "log" message.
type logPayload struct {
	Content string `json:"content"`
}

// ServerMessage is a message sent to a WebSocket client. Only the fields
// relevant to the message being sent are populated; the rest are omitted
// from the wire encoding (spec §4.H "Server → client messages").
type ServerMessage struct {
	Type     string      `json:"type,omitempty"`
	Action   string      `json:"action,omitempty"`
	DataType Kind        `json:"dataType,omitempty"`
	TargetID string      `json:"targetId,omitempty"`
	Log      *logPayload `json:"log,omitempty"`

	Processes []ProcessSummary `json:"processes,omitempty"`
	Sessions  []SessionSummary `json:"sessions,omitempty"`

	Dropped int `json:"dropped,omitempty"`

	Error string `json:"error,omitempty"`
}

// ProcessSummary and SessionSummary are the shapes returned in a "list"
// response. They are deliberately independent of the procsup/session
// package types — the hub only knows about summaries, via the
// ProcessLister/SessionLister interfaces it is given, which keeps it free
// of an import cycle (spec §9).
type ProcessSummary struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Status  string `json:"status"`
}

type SessionSummary struct {
	ID     string `json:"id"`
	Cwd    string `json:"cwd"`
	Status string `json:"status"`
}

func logMessage(kind Kind, targetID, stream, line string) ServerMessage {
	prefix := "[stdout]"
	if stream == "stderr" {
		prefix = "[stderr]"
	}
	return ServerMessage{
		Type:     "log",
		DataType: kind,
		TargetID: targetID,
		Log:      &logPayload{Content: prefix + " " + line},
	}
}

func subscribedMessage(kind Kind, targetID string) ServerMessage {
	return ServerMessage{Action: "subscribed", Type: string(kind), TargetID: targetID}
}

func unsubscribedMessage(kind Kind, targetID string) ServerMessage {
	return ServerMessage{Action: "unsubscribed", Type: string(kind), TargetID: targetID}
}

func errorMessage(msg string) ServerMessage {
	return ServerMessage{Error: msg}
}

func droppedMessage(n int) ServerMessage {
	return ServerMessage{Action: "dropped", Dropped: n}
}

func listMessage(processes []ProcessSummary, sessions []SessionSummary) ServerMessage {
	return ServerMessage{Type: "list", Processes: processes, Sessions: sessions}
}
