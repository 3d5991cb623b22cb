package moltbook

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var ErrSuspended = errors.New("moltbook account suspended")

// APIError is the JSON error body returned by the API.
type APIError struct {
	ErrStr  string `json:"error"`
	Hint    string `json:"hint,omitempty"`
	Message string `json:"message,omitempty"`
}

func (ae *APIError) Error() string {
	if ae.Hint != "" {
		return fmt.Sprintf("%s: %s", ae.ErrStr, ae.Hint)
	}
	if ae.Message != "" {
		return fmt.Sprintf("%s: %s", ae.ErrStr, ae.Message)
	}
	return ae.ErrStr
}

type Error struct {
	StatusCode int
	Wrapped    error
	Ratelimit  *RatelimitInfo
}

func (e *Error) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("moltbook API error %d", e.StatusCode)
	}
	if e.StatusCode == http.StatusTooManyRequests && e.Ratelimit != nil {
		return fmt.Sprintf("moltbook API error %d: %s (throttled until %s)", e.StatusCode, e.Wrapped, e.Ratelimit.Reset.Local())
	}
	return fmt.Sprintf("moltbook API error %d: %s", e.StatusCode, e.Wrapped)
}

func (e *Error) Unwrap() error {
	if e.Wrapped == nil {
		return nil
	}
	return e.Wrapped
}

func (e *Error) IsThrottled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

type RatelimitInfo struct {
	Limit     int
	Remaining int
	Policy    string
	Reset     time.Time
}

func errorFromHTTPResponse(resp *http.Response, err error) error {
	r := &Error{
		StatusCode: resp.StatusCode,
		Wrapped:    err,
	}
	if resp.Header.Get("ratelimit-limit") != "" || resp.Header.Get("x-ratelimit-limit") != "" {
		r.Ratelimit = &RatelimitInfo{
			Policy: resp.Header.Get("ratelimit-policy"),
		}
		if n, err := strconv.ParseInt(firstHeader(resp, "ratelimit-reset", "x-ratelimit-reset"), 10, 64); err == nil {
			r.Ratelimit.Reset = time.Unix(n, 0)
		}
		if n, err := strconv.ParseInt(firstHeader(resp, "ratelimit-limit", "x-ratelimit-limit"), 10, 64); err == nil {
			r.Ratelimit.Limit = int(n)
		}
		if n, err := strconv.ParseInt(firstHeader(resp, "ratelimit-remaining", "x-ratelimit-remaining"), 10, 64); err == nil {
			r.Ratelimit.Remaining = int(n)
		}
	}
	return r
}

func firstHeader(resp *http.Response, names ...string) string {
	for _, n := range names {
		if v := resp.Header.Get(n); v != "" {
			return v
		}
	}
	return ""
}
