package mpesa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
)

var (
	// ErrInvalidPhone is returned for payer references that cannot be put
	// into the 2547XXXXXXXX form.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidAmount is returned for amounts M-Pesa cannot carry.
	ErrInvalidAmount = errors.New("amount must be a positive whole number of shillings")
	// ErrMalformedCallback is returned when a notification has no usable correlation id.
	ErrMalformedCallback = errors.New("malformed mpesa callback")
)

// GatewayError is a failure talking to the M-Pesa API. No push was accepted,
// so the caller may retry with a fresh request.
type GatewayError struct {
	Op         string // token, stk_push, stk_query, b2c
	StatusCode int
	Code       string
	Message    string
	Timeout    bool
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("mpesa %s timeout: %v", e.Op, e.Err)
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("mpesa %s network error: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("mpesa %s error: status=%d code=%s message=%s", e.Op, e.StatusCode, e.Code, e.Message)
	}
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err is (or wraps) a *GatewayError.
func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}

func classifyRequestError(ctx context.Context, op string, err error) *GatewayError {
	ge := &GatewayError{Op: op, Timeout: isTimeoutError(ctx, err), Err: err}
	if !ge.Timeout && isNetworkError(err) {
		ge.Message = "network unreachable"
	}
	return ge
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
