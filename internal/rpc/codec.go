package rpc

import (
	"encoding/json"
	"fmt"

	"clip-dispatch/internal/domain"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeDispatch converts a dispatch message to its wire form.
func EncodeDispatch(msg domain.DispatchMessage) (*structpb.Struct, error) {
	return encode(msg)
}

// DecodeDispatch converts a wire message back to a dispatch message.
func DecodeDispatch(s *structpb.Struct) (domain.DispatchMessage, error) {
	var msg domain.DispatchMessage
	if err := decode(s, &msg); err != nil {
		return msg, err
	}
	if msg.ID == "" || msg.Task == "" {
		return msg, fmt.Errorf("dispatch message requires id and task")
	}
	return msg, nil
}

// EncodeReport converts a report message to its wire form.
func EncodeReport(msg domain.ReportMessage) (*structpb.Struct, error) {
	return encode(msg)
}

// DecodeReport converts a wire message back to a report message.
func DecodeReport(s *structpb.Struct) (domain.ReportMessage, error) {
	var msg domain.ReportMessage
	if err := decode(s, &msg); err != nil {
		return msg, err
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("report message requires a type")
	}
	return msg, nil
}

func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to convert message to struct: %w", err)
	}
	return s, nil
}

func decode(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("empty message")
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to convert struct to JSON: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}
