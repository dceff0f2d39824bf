package request

import (
	"bytes"
	"path"
	"strings"
)

var crlf = []byte("\r\n")

// parseRequestLine parses: METHOD TARGET VERSION\r\n
// Returns: method, raw target, version, bytesConsumed, error.
// Consumed 0 with nil error means more data is needed.
func parseRequestLine(data []byte) (string, string, string, int, error) {
	idx := bytes.Index(data, crlf)
	if idx == -1 {
		return "", "", "", 0, nil
	}

	line := data[:idx]
	consumed := idx + 2

	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return "", "", "", 0, ErrMalformedRequestLine
	}

	method := string(parts[0])
	target := string(parts[1])
	version := string(parts[2])

	if !isValidMethod(method) {
		return "", "", "", 0, ErrInvalidMethod
	}
	if !isValidTarget(target) {
		return "", "", "", 0, ErrInvalidPath
	}
	if !isValidVersion(version) {
		return "", "", "", 0, ErrUnsupportedVersion
	}

	return method, target, version, consumed, nil
}

func isValidMethod(method string) bool {
	switch method {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
		return true
	default:
		return false
	}
}

func isValidTarget(target string) bool {
	if len(target) == 0 {
		return false
	}
	// Origin-form, or "*" for OPTIONS * HTTP/1.1.
	return target[0] == '/' || target == "*"
}

func isValidVersion(version string) bool {
	return version == "HTTP/1.0" || version == "HTTP/1.1"
}

// splitTarget decomposes a raw request target into path and query string.
func splitTarget(target string) (string, string) {
	if idx := strings.IndexByte(target, '?'); idx != -1 {
		return target[:idx], target[idx+1:]
	}
	return target, ""
}

// normalizePath resolves "." and ".." segments and collapses repeated
// separators, always yielding an absolute path.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}
