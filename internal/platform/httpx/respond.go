// Package httpx writes JSON and RFC 7807 problem responses.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ProblemDetail is an RFC 7807 problem body.
type ProblemDetail struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ErrorMapping routes errors matching Target (via errors.Is) to Status.
type ErrorMapping struct {
	Target error
	Status int
	Title  string
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC 7807 problem response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{Title: title, Status: status, Detail: detail})
}

// RespondError writes the first matching mapping as a problem carrying
// err's message. Unmatched errors become a 500 without detail and report
// false so the caller can log them.
func RespondError(w http.ResponseWriter, err error, mappings ...ErrorMapping) bool {
	for _, m := range mappings {
		if errors.Is(err, m.Target) {
			title := m.Title
			if title == "" {
				title = http.StatusText(m.Status)
			}
			Problem(w, m.Status, title, err.Error())
			return true
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
	return false
}
