package provider

import "fmt"

// TransportError reports a failed provider call. StatusCode is zero when
// the failure happened before or after the HTTP exchange (network error,
// undecodable body, open circuit).
type TransportError struct {
	Provider   ID
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s api error: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s api error", e.Provider)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError builds the error returned for a non-2xx response.
func StatusError(id ID, status int, body []byte) error {
	return &TransportError{Provider: id, StatusCode: status, Body: string(body)}
}

// Wrap attributes err to the provider. A nil err stays nil.
func Wrap(id ID, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Provider: id, Err: err}
}
