package apiservice

import (
	"time"

	"github.com/bytedance/sonic"
)

// Provider supplies the service-specific parts of an external API: where it
// lives, how it authenticates, how requests are shaped and what they cost.
type Provider interface {
	Name() string
	BaseURL() string
	HasCredentials() bool
	// AuthHeader returns the Authorization header value for live calls.
	AuthHeader() string
	// Body returns the JSON payload sent for req.
	Body(req Request) any
	// Idempotent reports whether a non-GET call only reads and may be cached.
	Idempotent(req Request) bool
	EstimateCost(endpoint string, params map[string]any) int64
	// ActualCost derives credits from a successful response body. ok is false
	// when the body carries no usage information.
	ActualCost(endpoint string, params map[string]any, body []byte) (credits int64, ok bool)
	// MockResponse is the deterministic body returned in sandbox mode.
	MockResponse(endpoint string, params map[string]any) []byte
}

// File is one part of a multipart upload.
type File struct {
	Field   string
	Name    string
	Content []byte
}

type Request struct {
	UserID   uint
	Endpoint string
	// Method defaults to POST.
	Method string
	Params map[string]any
	// Files switches the body to multipart/form-data; Params become form fields.
	Files []File
	// TTL overrides the cache lifetime of the response.
	TTL time.Duration
}

func (r Request) method() string {
	if r.Method == "" {
		return "POST"
	}
	return r.Method
}

type Response struct {
	RequestID   string
	Body        []byte
	StatusCode  int
	Cached      bool
	Sandbox     bool
	CreditsUsed int64
	Duration    time.Duration
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	return sonic.Unmarshal(r.Body, v)
}
