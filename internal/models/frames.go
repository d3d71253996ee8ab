package models

// WebSocket frame types sent by the client.
const (
	FrameSend   = "send"
	FrameSwitch = "switch"
	FrameNew    = "new"
)

// WebSocket frame types sent by the server.
const (
	FrameThreads    = "threads"
	FrameTranscript = "transcript"
	FrameMessage    = "message"
	FrameFragment   = "fragment"
	FrameDone       = "done"
	FrameError      = "error"
)

// ClientFrame is a request sent over the chat WebSocket.
type ClientFrame struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ServerFrame is an event sent over the chat WebSocket.
// Only the fields relevant to Type are set.
type ServerFrame struct {
	Type     string    `json:"type"`
	Threads  []Thread  `json:"threads,omitempty"`
	Active   string    `json:"active,omitempty"`
	Thread   *Thread   `json:"thread,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Content  string    `json:"content,omitempty"`
	Error    string    `json:"error,omitempty"`
	Code     string    `json:"code,omitempty"`
}
