package api

import (
	"encoding/json"
	"errors"
)

// Envelope is the subset of a chat-completion body the proxy inspects. The
// payload itself is forwarded untouched apart from the model rewrite, so
// everything else stays opaque.
type Envelope struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream,omitempty"`
}

// ModelList is the aggregate /v1/models response. Entries are passed through
// from the backends without interpretation.
type ModelList struct {
	Object string            `json:"object"`
	Data   []json.RawMessage `json:"data"`
}

func NewModelList() *ModelList {
	return &ModelList{
		Object: "list",
		Data:   make([]json.RawMessage, 0),
	}
}

// modelListPayload mirrors the backend's models response shape.
type modelListPayload struct {
	Data []json.RawMessage `json:"data"`
}

// ParseModelData extracts the data entries from a backend models payload.
func ParseModelData(body []byte) ([]json.RawMessage, error) {
	var payload modelListPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.Data == nil {
		return nil, errors.New("response has no 'data' array")
	}
	return payload.Data, nil
}

// ErrorDetail is the error payload shape surfaced to callers.
type ErrorDetail struct {
	Message string            `json:"message"`
	Type    string            `json:"type,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorBody wraps an error detail in the conventional envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

func NewErrorBody(message, errType string) ErrorBody {
	return ErrorBody{Error: ErrorDetail{Message: message, Type: errType}}
}
