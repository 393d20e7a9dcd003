package circle

import "fmt"

// APIError represents a non-success response from the Circle API after any
// retries have been exhausted.
type APIError struct {
	StatusCode    int
	Body          string
	CorrelationID string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("Circle API error [%d]: %s (correlation_id: %s)", e.StatusCode, e.Body, e.CorrelationID)
}

// IsNotFound returns true if the error is a 404 not found error
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == 404
}

// IsUnauthorized returns true if the error is a 401 unauthorized error
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsRateLimited returns true if the error is a 429 rate limit error
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// ParseError indicates the response body did not match the expected envelope.
// It is distinct from APIError: the call succeeded but the contract did not hold.
type ParseError struct {
	Reason        string
	CorrelationID string
	cause         error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("Circle response parse error: %s: %v (correlation_id: %s)", e.Reason, e.cause, e.CorrelationID)
	}
	return fmt.Sprintf("Circle response parse error: %s (correlation_id: %s)", e.Reason, e.CorrelationID)
}

// Unwrap returns the underlying cause, if any
func (e *ParseError) Unwrap() error {
	return e.cause
}
