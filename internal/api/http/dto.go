package http

import (
	"encoding/json"

	"clip-dispatch/internal/domain"
)

// ExtractClipRequest is the body of POST /api/extract-clip.
type ExtractClipRequest struct {
	YoutubeURL string   `json:"youtubeUrl" validate:"required,youtube"`
	StartTime  *float64 `json:"startTime" validate:"required,gte=0"`
	EndTime    *float64 `json:"endTime" validate:"required,gte=0"`
}

// ToClipRequest converts the validated DTO to the task body.
func (r *ExtractClipRequest) ToClipRequest() domain.ClipRequest {
	return domain.ClipRequest{
		YoutubeURL: r.YoutubeURL,
		StartTime:  *r.StartTime,
		EndTime:    *r.EndTime,
	}
}

// Envelope is the JSON shape of every response.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

func errorEnvelope(label, message string) Envelope {
	return Envelope{Success: false, Message: message, Data: json.RawMessage("null"), Error: &label}
}

func dataEnvelope(message string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Success: true, Message: message, Data: raw}, nil
}
