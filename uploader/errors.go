package uploader

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/listing-uploader/locator"
	"github.com/aluiziolira/listing-uploader/media"
)

// ErrSubmissionRejected indicates the form reported an error after submit.
type ErrSubmissionRejected struct {
	Reason string
	Err    error
}

func (e ErrSubmissionRejected) Error() string {
	if e.Err != nil {
		return fmt.Errorf("submission rejected: %s: %w", e.Reason, e.Err).Error()
	}
	return "submission rejected: " + e.Reason
}

func (e ErrSubmissionRejected) Unwrap() error {
	return e.Err
}

// ErrAuthentication indicates the login did not succeed.
type ErrAuthentication struct {
	Err error
}

func (e ErrAuthentication) Error() string {
	return fmt.Errorf("authentication: %w", e.Err).Error()
}

func (e ErrAuthentication) Unwrap() error {
	return e.Err
}

// ErrVerificationChallenge indicates an anti-automation challenge that was
// not resolved.
type ErrVerificationChallenge struct {
	URL string
}

func (e ErrVerificationChallenge) Error() string {
	return fmt.Sprintf("verification challenge unresolved at %s", e.URL)
}

// ErrInvalidRecord marks an input row rejected by the loader.
type ErrInvalidRecord struct {
	Err error
}

func (e ErrInvalidRecord) Error() string {
	return fmt.Errorf("invalid_record: %w", e.Err).Error()
}

func (e ErrInvalidRecord) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, locator.ErrElementNotFound) {
		return "element_not_found"
	}
	var rejected ErrSubmissionRejected
	if errors.As(err, &rejected) {
		return "submission_rejected"
	}
	var auth ErrAuthentication
	if errors.As(err, &auth) {
		return "authentication"
	}
	var challenge ErrVerificationChallenge
	if errors.As(err, &challenge) {
		return "verification_challenge"
	}
	var invalid ErrInvalidRecord
	if errors.As(err, &invalid) {
		return "invalid_record"
	}
	var mediaErr *media.Error
	if errors.As(err, &mediaErr) {
		return "media"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}

// halts reports errors that stop the whole run rather than one product.
func halts(err error) bool {
	var auth ErrAuthentication
	var challenge ErrVerificationChallenge
	return errors.As(err, &auth) || errors.As(err, &challenge)
}

// retryable reports errors worth another attempt at the same product.
func retryable(err error) bool {
	if err == nil || halts(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var invalid ErrInvalidRecord
	var mediaErr *media.Error
	return !errors.As(err, &invalid) && !errors.As(err, &mediaErr)
}
