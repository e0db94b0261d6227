package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayUnavailable covers timeouts, transport errors and 5xx/429
	// answers that survived the retries.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected is a 4xx answer. It is never retried.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")

	// ErrRefundNotRecorded accompanies a refund-case error when the alert could
	// not be stored; the caller should let the gateway redeliver.
	ErrRefundNotRecorded = errors.New("refund alert not recorded")
)

type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: gateway answered %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 429 {
		return ErrGatewayRejected
	}
	return ErrGatewayUnavailable
}

// Retryable reports whether the call may succeed if repeated.
func (e *GatewayError) Retryable() bool {
	return errors.Is(e, ErrGatewayUnavailable)
}
