package request

import (
	"fmt"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// decodeBody dispatches on the normalized Content-Type prefix. Unrecognized
// types pass through as raw text.
func (r *Request) decodeBody() (any, error) {
	raw, err := r.RawBody()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	ct := strings.ToLower(r.Header("Content-Type"))
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		return v, nil

	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		form, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, fmt.Errorf("decode form body: %w", err)
		}
		return form, nil

	default:
		return string(raw), nil
	}
}

// JSON unmarshals the raw body into v regardless of Content-Type.
func (r *Request) JSON(v any) error {
	raw, err := r.RawBody()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Form returns the body decoded as a urlencoded form.
func (r *Request) Form() (url.Values, error) {
	v, err := r.Body()
	if err != nil {
		return nil, err
	}
	form, ok := v.(url.Values)
	if !ok {
		return nil, fmt.Errorf("body is not a urlencoded form")
	}
	return form, nil
}
