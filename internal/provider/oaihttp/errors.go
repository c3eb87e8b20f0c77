package oaihttp

import "fmt"

// HTTPError is a non-2xx reply from the completion endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "provider http error"
	}
	if e.Body == "" {
		return fmt.Sprintf("provider http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("provider http error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the status suggests a later attempt may succeed.
func (e *HTTPError) Retryable() bool {
	return e != nil && (e.StatusCode == 429 || e.StatusCode >= 500)
}
