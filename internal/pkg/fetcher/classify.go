package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"webextract/internal/pkg/apperr"
)

var errTooManyRedirects = errors.New("stopped after 10 redirects")

// Maps a client or body read error onto the fetch taxonomy. parent is the
// caller's context, used to tell cancellation apart from attempt timeouts.
func classifyTransportError(parent context.Context, fullURL string, err error) error {
	if parent.Err() != nil {
		return apperr.Transient(opFetch, fullURL, apperr.ReasonCanceled, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(opFetch, fullURL, apperr.ReasonTimeout, err)
	}
	if errors.Is(err, errTooManyRedirects) {
		return apperr.Permanent(opFetch, fullURL, apperr.ReasonHTTPStatus, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return apperr.Transient(opFetch, fullURL, apperr.ReasonTimeout, err)
		}
		return apperr.Permanent(opFetch, fullURL, apperr.ReasonDNS, err)
	}
	if isTLSError(err) {
		return apperr.Permanent(opFetch, fullURL, apperr.ReasonTLS, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Transient(opFetch, fullURL, apperr.ReasonTimeout, err)
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return apperr.Transient(opFetch, fullURL, apperr.ReasonConnectionReset, err)
	}
	return apperr.Transient(opFetch, fullURL, apperr.ReasonConnection, err)
}

func isTLSError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		alertErr    tls.AlertError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &alertErr)
}

// ClassifyTransport maps a client error for another outbound caller,
// labelling it with op.
func ClassifyTransport(parent context.Context, op, fullURL string, err error) error {
	return withOp(classifyTransportError(parent, fullURL, err), op)
}

// ClassifyStatus returns nil for a 2xx response and the typed fetch error
// otherwise, labelled with op.
func ClassifyStatus(op, fullURL string, resp *http.Response) error {
	if err := classifyStatus(fullURL, resp); err != nil {
		return withOp(err, op)
	}
	return nil
}

func withOp(err error, op string) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		e.Op = op
	}
	return err
}
