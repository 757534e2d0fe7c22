package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure for callers of the pipeline.
type Kind string

const (
	KindTransientFetch   Kind = "transient_fetch"
	KindPermanentFetch   Kind = "permanent_fetch"
	KindParseFailure     Kind = "parse_failure"
	KindCacheUnavailable Kind = "cache_unavailable"
	KindHistoryLogging   Kind = "history_logging"
	KindInvalidRequest   Kind = "invalid_request"
	KindUnknown          Kind = "unknown"
)

// Reason codes carried by Error.Reason.
const (
	ReasonTimeout          = "timeout"
	ReasonConnectionReset  = "connection_reset"
	ReasonConnection       = "connection"
	ReasonHTTPStatus       = "http_status"
	ReasonRateLimited      = "rate_limited"
	ReasonDNS              = "dns"
	ReasonTLS              = "tls"
	ReasonContentType      = "content_type"
	ReasonRobotsDisallowed = "robots_disallowed"
	ReasonCanceled         = "canceled"
	ReasonUnparseable      = "unparseable"
	ReasonInvalidURL       = "invalid_url"
)

var (
	ErrTransientFetch   = errors.New("transient fetch error")
	ErrPermanentFetch   = errors.New("permanent fetch error")
	ErrParseFailure     = errors.New("parse failure")
	ErrCacheUnavailable = errors.New("cache unavailable")
	ErrHistoryLogging   = errors.New("history logging failure")
	ErrInvalidRequest   = errors.New("invalid request")
)

var sentinels = map[Kind]error{
	KindTransientFetch:   ErrTransientFetch,
	KindPermanentFetch:   ErrPermanentFetch,
	KindParseFailure:     ErrParseFailure,
	KindCacheUnavailable: ErrCacheUnavailable,
	KindHistoryLogging:   ErrHistoryLogging,
	KindInvalidRequest:   ErrInvalidRequest,
}

// Error is the typed failure surfaced by every pipeline stage.
type Error struct {
	Kind       Kind
	Op         string
	URL        string
	StatusCode int
	Reason     string
	// RetryAfter is a server supplied delay hint, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		if e.StatusCode != 0 {
			fmt.Fprintf(&b, " %d", e.StatusCode)
		}
		b.WriteString(")")
	}
	if e.URL != "" {
		b.WriteString(" for ")
		b.WriteString(e.URL)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && target == sentinel
}

func Transient(op, url, reason string, err error) *Error {
	return &Error{Kind: KindTransientFetch, Op: op, URL: url, Reason: reason, Err: err}
}

func Permanent(op, url, reason string, err error) *Error {
	return &Error{Kind: KindPermanentFetch, Op: op, URL: url, Reason: reason, Err: err}
}

func Parse(op, url string, err error) *Error {
	return &Error{Kind: KindParseFailure, Op: op, URL: url, Reason: ReasonUnparseable, Err: err}
}

func CacheUnavailable(op string, err error) *Error {
	return &Error{Kind: KindCacheUnavailable, Op: op, Err: err}
}

func HistoryLogging(op string, err error) *Error {
	return &Error{Kind: KindHistoryLogging, Op: op, Err: err}
}

func Invalid(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the taxonomy kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is a transient fetch failure other than cancellation.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindTransientFetch && e.Reason != ReasonCanceled
}

// RetryAfterHint returns the server supplied delay carried by err, if any.
func RetryAfterHint(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

var reasonMessages = map[string]string{
	ReasonTimeout:          "the request timed out",
	ReasonConnectionReset:  "the connection was reset by the remote host",
	ReasonConnection:       "the remote host could not be reached",
	ReasonRateLimited:      "the site is rate limiting requests",
	ReasonDNS:              "the host name could not be resolved",
	ReasonTLS:              "the TLS handshake or certificate check failed",
	ReasonContentType:      "the page is not HTML",
	ReasonRobotsDisallowed: "the site blocks automated access to this path (robots.txt)",
	ReasonCanceled:         "the request was canceled",
	ReasonUnparseable:      "the page could not be parsed as HTML",
	ReasonInvalidURL:       "the URL is not valid",
}

// UserMessage renders a short human readable explanation of err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	msg, ok := reasonMessages[e.Reason]
	switch {
	case e.Reason == ReasonHTTPStatus && e.StatusCode >= 500:
		msg = fmt.Sprintf("the server failed with HTTP %d", e.StatusCode)
	case e.Reason == ReasonHTTPStatus && (e.StatusCode == 401 || e.StatusCode == 403):
		msg = fmt.Sprintf("access was blocked (HTTP %d)", e.StatusCode)
	case e.Reason == ReasonHTTPStatus:
		msg = fmt.Sprintf("the server answered HTTP %d", e.StatusCode)
	case !ok && e.Err != nil:
		msg = e.Err.Error()
	case !ok:
		msg = string(e.Kind)
	}
	switch e.Kind {
	case KindTransientFetch:
		return "Temporary failure after retries: " + msg
	case KindPermanentFetch:
		return "Fetch failed: " + msg
	case KindParseFailure:
		return "Extraction failed: " + msg
	case KindInvalidRequest:
		return "Invalid request: " + msg
	}
	return msg
}
