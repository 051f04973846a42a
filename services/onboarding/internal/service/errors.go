package service

import (
	"fmt"
	"time"

	"github.com/xx-3-xx/BankWebsite/services/onboarding/internal/provider"
)

const (
	MsgRequiredFields         = "All required fields must be filled"
	MsgInvalidEmail           = "Invalid email format"
	MsgNoImage                = "No image provided"
	MsgInvalidImage           = "Invalid image format"
	MsgFaceNotVisible         = "Face not clearly visible. Please retake the photo."
	MsgDocumentsRequired      = "IC front and back images are required"
	MsgAccountFieldsRequired  = "Account number and bank name are required"
	MsgInvalidAccountNumber   = "Invalid account number format"
	MsgInvalidAccountType     = "Invalid account type"
	MsgCodeRequired           = "Verification code is required"
	MsgCodeNotFound           = "Verification code expired or not found"
	MsgCodeMismatch           = "Invalid verification code"
	MsgCodeAttemptsExhausted  = "Too many invalid attempts. Please request a new code."
	MsgTooManyRequests        = "Too many verification requests. Please try again later."
	MsgTimeout                = "Request timed out"
	MsgInternal               = "Internal server error"
	msgImageTypeSuffix        = " image must be a valid image file (JPEG, PNG, WebP)"
	msgImageTooLargeSuffix    = " image is too large. Maximum size is 5MB."
	msgMissingFieldsSeparator = ", "
)

// ValidationError is a missing or malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// MediaConstraintError is an uploaded file with a disallowed type or size.
type MediaConstraintError struct {
	File       string
	Constraint string
	Message    string
}

func (e *MediaConstraintError) Error() string { return e.Message }

// DocumentTooLarge is the size error for one of the upload fields.
func DocumentTooLarge(field string) *MediaConstraintError {
	return &MediaConstraintError{
		File:       field,
		Constraint: "size",
		Message:    documentLabels[field] + msgImageTooLargeSuffix,
	}
}

// QualityError carries the analysis that fell below the confidence
// threshold so the client can show it.
type QualityError struct {
	Message  string
	Analysis provider.FaceAnalysis
}

func (e *QualityError) Error() string { return e.Message }

type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return MsgTooManyRequests }

// TimeoutError means a step's unit of work did not finish within the step
// deadline.
type TimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Step, e.Timeout)
}

// UnexpectedError wraps any failure that is not the caller's fault. Only
// MsgInternal ever reaches the client.
type UnexpectedError struct {
	Step string
	Err  error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }
