package event

// RequestData accompanies request lifecycle events.
type RequestData struct {
	RequestID string `json:"requestId"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Stream    bool   `json:"stream"`
	QueueLen  int    `json:"queueLen,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DeltaData accompanies stream.delta events.
type DeltaData struct {
	RequestID string `json:"requestId"`
	Content   string `json:"content"`
}

// ToolData accompanies tool.executed events.
type ToolData struct {
	SessionID  string `json:"sessionId"`
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name"`
	Error      string `json:"error,omitempty"`
}

// SessionData accompanies session.finished events.
type SessionData struct {
	SessionID  string `json:"sessionId"`
	Iterations int    `json:"iterations"`
	Error      string `json:"error,omitempty"`
}
