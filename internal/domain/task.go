package domain

import (
	"encoding/json"
)

// TaskExtractClip is the task served by the media workers.
const TaskExtractClip = "extract-clip"

// TaskRequest is the opaque payload forwarded to a worker. It carries the
// parts of the inbound HTTP request an executor may need.
type TaskRequest struct {
	Body    json.RawMessage     `json:"body,omitempty"`
	Params  map[string]string   `json:"params,omitempty"`
	Query   map[string][]string `json:"query,omitempty"`
	Method  string              `json:"method,omitempty"`
	URL     string              `json:"url,omitempty"`
	Headers map[string]string   `json:"headers,omitempty"`
}

// TaskOutput is what an executor hands back on success.
type TaskOutput struct {
	Message string
	Data    any
}
