package domain

// MessageType tags messages flowing from a worker to the dispatcher.
type MessageType string

const (
	MessageTaskCompleted MessageType = "taskCompleted"
	MessageTaskFailed    MessageType = "taskFailed"
	// MessageWorkerReady is sent once when a worker starts accepting tasks.
	MessageWorkerReady MessageType = "workerReady"
)

// DispatchMessage is sent from the dispatcher to a worker.
type DispatchMessage struct {
	Task string       `json:"task"`
	Req  *TaskRequest `json:"req"`
	ID   string       `json:"id"`
	// W3C trace context of the submitting caller.
	Trace map[string]string `json:"trace,omitempty"`
}

// ReportMessage is sent from a worker to the dispatcher.
type ReportMessage struct {
	Type   MessageType `json:"type"`
	ID     string      `json:"id,omitempty"`
	Result *Result     `json:"result,omitempty"`
}

// IsTerminal reports whether the message resolves a task.
func (m ReportMessage) IsTerminal() bool {
	return m.Type == MessageTaskCompleted || m.Type == MessageTaskFailed
}
