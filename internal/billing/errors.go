package billing

import "errors"

var (
	// ErrInvalidSignature indicates a webhook payload failed signature
	// verification and must not be processed.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrChargeNotFound indicates the processor has no record of the charge.
	ErrChargeNotFound = errors.New("charge not found")
)
