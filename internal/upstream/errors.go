package upstream

import (
	"time"

	"github.com/tidwall/gjson"
)

// Error wraps a non-2xx upstream response, with the structured envelope
// fields extracted per §4.5. It implements quota.authError (StatusCode)
// without either package importing the other.
type Error struct {
	Status                 int
	Message                string
	RawStatus              string // upstream's string "status" field, e.g. UNAVAILABLE
	DisableToken           bool
	ModelCapacityExhausted bool
	RetryAfter             time.Duration
	hasRetryAfter          bool
	Body                   string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "upstream error"
}

// StatusCode satisfies quota's authError interface.
func (e *Error) StatusCode() int { return e.Status }

// RetryDelay returns the parsed RetryInfo delay and whether one was present.
func (e *Error) RetryDelay() (time.Duration, bool) { return e.RetryAfter, e.hasRetryAfter }

// ParseError builds an Error from an HTTP status and the raw response body,
// applying the §4.5 envelope mapping rules.
func ParseError(httpStatus int, body []byte) *Error {
	e := &Error{Status: httpStatus, Body: string(body)}

	errObj := gjson.GetBytes(body, "error")
	if !errObj.Exists() {
		return e
	}
	e.Message = errObj.Get("message").String()
	e.RawStatus = errObj.Get("status").String()

	codeField := errObj.Get("code")
	switch {
	case codeField.Type == gjson.String:
		switch codeField.String() {
		case "RESOURCE_EXHAUSTED":
			e.Status = 429
		case "INTERNAL":
			e.Status = 500
		case "UNAUTHENTICATED":
			e.Status = 401
			e.DisableToken = true
		}
	case codeField.Type == gjson.Number:
		if n := codeField.Int(); n > 0 && n <= 65535 {
			e.Status = int(n)
		}
	}

	if httpStatus == 503 && e.RawStatus == "UNAVAILABLE" &&
		hasPrefix(e.Message, "No capacity available for model ") {
		for _, d := range errObj.Get("details").Array() {
			if d.Get("reason").String() == "MODEL_CAPACITY_EXHAUSTED" && d.Get("metadata.model").Exists() {
				e.ModelCapacityExhausted = true
				break
			}
		}
	}

	for _, d := range errObj.Get("details").Array() {
		if rd := d.Get("retryDelay"); rd.Exists() {
			if dur, err := time.ParseDuration(rd.String()); err == nil {
				e.RetryAfter = dur
				e.hasRetryAfter = true
			}
		}
	}

	return e
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
