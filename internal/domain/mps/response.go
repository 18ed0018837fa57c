package mps

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// CachedResponse is what the gateway stores per cache key.
type CachedResponse struct {
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
}

// Result is the normalized answer handed to consumers. Data is validated
// JSON; "null" when the upstream replied with an empty body.
type Result struct {
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	FromCache  bool            `json:"-"`
}

func (r Result) Decode(dst any) error {
	if len(bytes.TrimSpace(r.Data)) == 0 {
		return errors.New("empty response data")
	}
	return json.Unmarshal(r.Data, dst)
}

// RequestOptions controls caching and validation of one gateway call.
type RequestOptions struct {
	UseCache bool
	// TTL of the cached response; zero uses the gateway default.
	TTL            time.Duration
	RequiredFields []string
}

// Request is one logical upstream call.
type Request struct {
	Path    string
	Method  string
	Body    map[string]any
	Options RequestOptions
}
