package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ProxyConfig maps a client-facing proxy model name to a backend endpoint.
type ProxyConfig struct {
	ProxyModelName   string    `db:"proxy_model_name" json:"proxy_model_name"`
	BaseURL          string    `db:"base_url" json:"base_url"`
	BackendModelName string    `db:"backend_model_name" json:"backend_model_name"`
	BackendAPIKey    string    `db:"backend_api_key" json:"backend_api_key,omitempty"` // empty means pass the caller's credential through
	IgnoreSSLVerify  bool      `db:"ignore_ssl_verify" json:"ignore_ssl_verify"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// HeaderMap is a flat string header mapping stored as a JSON text column.
type HeaderMap map[string]string

func (h HeaderMap) Value() (driver.Value, error) {
	if h == nil {
		return "{}", nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (h *HeaderMap) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	default:
		return fmt.Errorf("cannot scan %T into HeaderMap", src)
	}
}

// Body is a nullable JSON document column. Data holds either a structured
// value (decoded JSON) or a raw string when the captured bytes were not valid
// JSON. Valid=false means the body is absent (GET requests, provisional
// streaming records).
type Body struct {
	Data  interface{}
	Valid bool
}

// JSONBody wraps a structured value into a present Body.
func JSONBody(v interface{}) Body {
	return Body{Data: v, Valid: true}
}

// TextBody wraps raw text into a present Body.
func TextBody(s string) Body {
	return Body{Data: s, Valid: true}
}

func (b Body) Value() (driver.Value, error) {
	if !b.Valid {
		return nil, nil
	}
	data, err := json.Marshal(b.Data)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (b *Body) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*b = Body{}
		return nil
	case []byte:
		b.Valid = true
		return json.Unmarshal(v, &b.Data)
	case string:
		b.Valid = true
		return json.Unmarshal([]byte(v), &b.Data)
	default:
		return fmt.Errorf("cannot scan %T into Body", src)
	}
}

func (b Body) MarshalJSON() ([]byte, error) {
	if !b.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(b.Data)
}

func (b *Body) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = Body{}
		return nil
	}
	b.Valid = true
	return json.Unmarshal(data, &b.Data)
}

// LogEntry is the audit record of one proxied call.
type LogEntry struct {
	ID                 string    `db:"id" json:"id"`
	Timestamp          time.Time `db:"timestamp" json:"timestamp"`
	RequestMethod      string    `db:"request_method" json:"request_method"`
	RequestPath        string    `db:"request_path" json:"request_path"`
	RequestHeaders     HeaderMap `db:"request_headers" json:"request_headers"`
	RequestBody        Body      `db:"request_body" json:"request_body"`
	ResponseStatusCode int       `db:"response_status_code" json:"response_status_code"`
	ResponseHeaders    HeaderMap `db:"response_headers" json:"response_headers"`
	ResponseBody       Body      `db:"response_body" json:"response_body"`
	ProcessingTime     float64   `db:"processing_time" json:"processing_time"`
	IsStream           bool      `db:"is_stream" json:"is_stream"`
}

// LogFilter narrows log queries. Zero values mean "no constraint".
type LogFilter struct {
	Start        *time.Time
	End          *time.Time
	StatusMin    int
	StatusMax    int
	PathContains string // case-insensitive substring
	Method       string // exact match
}
