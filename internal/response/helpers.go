package response

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Text sends a plain text response.
func (r *Response) Text(code int, body string) error {
	if err := r.Status(code); err != nil {
		return err
	}
	r.headers.Set("Content-Type", "text/plain; charset=utf-8")
	return r.Write([]byte(body))
}

// HTML sends an HTML response.
func (r *Response) HTML(code int, body string) error {
	if err := r.Status(code); err != nil {
		return err
	}
	r.headers.Set("Content-Type", "text/html; charset=utf-8")
	return r.Write([]byte(body))
}

// JSON marshals v and sends it as an application/json response.
func (r *Response) JSON(code int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json response: %w", err)
	}
	if err := r.Status(code); err != nil {
		return err
	}
	r.headers.Set("Content-Type", "application/json; charset=utf-8")
	return r.Write(body)
}

// Error sends a JSON error body with the given status.
func (r *Response) Error(code int, message string) error {
	if message == "" {
		message = StatusText(code)
	}
	return r.JSON(code, map[string]string{"error": message})
}

// Redirect sends a redirect to location.
func (r *Response) Redirect(code int, location string) error {
	switch code {
	case StatusMovedPermanently, StatusFound, StatusSeeOther,
		StatusTemporaryRedirect, StatusPermanentRedirect:
	default:
		return fmt.Errorf("invalid redirect status code: %d", code)
	}
	if err := r.Status(code); err != nil {
		return err
	}
	r.headers.Set("Location", location)
	return r.Write(nil)
}

// NoContent sends a bodyless 204.
func (r *Response) NoContent() error {
	if err := r.Status(StatusNoContent); err != nil {
		return err
	}
	return r.Write(nil)
}
