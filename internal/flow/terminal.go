// internal/flow/terminal.go

// Package flow carries the terminal-response value threaded through the auth
// decision chain. A step either yields a value or a *Terminal; terminals
// propagate unchanged to the serving boundary, where they are written after
// CORS headers are attached. There are no hidden non-local exits.
package flow

import (
	"encoding/json"
	"net/http"

	"shopauth/pkg/problems"
)

// Terminal is a fully-decided HTTP response.
type Terminal struct {
	Status int
	Header http.Header
	Body   []byte
}

func New(status int) *Terminal {
	return &Terminal{Status: status, Header: http.Header{}}
}

// Redirect builds a 302 to the given location.
func Redirect(location string) *Terminal {
	t := New(http.StatusFound)
	t.Header.Set("Location", location)
	return t
}

// HTML builds an HTML page response.
func HTML(status int, body string) *Terminal {
	t := New(status)
	t.Header.Set("Content-Type", "text/html; charset=utf-8")
	t.Body = []byte(body)
	return t
}

// Problem builds a problem+json error response. Detail must stay generic for
// 5xx: internals are logged server-side, never sent to the client.
func Problem(status int, slug, title, detail string) *Terminal {
	t := New(status)
	t.Header.Set("Content-Type", "application/problem+json")
	b, _ := json.Marshal(problems.Problem{Type: problems.Type(slug), Title: title, Status: status, Detail: detail})
	t.Body = b
	return t
}

// NoContent builds an empty response (preflight answers).
func NoContent() *Terminal { return New(http.StatusNoContent) }

// SetCookie appends a Set-Cookie header.
func (t *Terminal) SetCookie(c *http.Cookie) *Terminal {
	t.Header.Add("Set-Cookie", c.String())
	return t
}

// Merge copies headers from h (response headers produced mid-flow, e.g. new
// cookies minted during token exchange) onto the terminal.
func (t *Terminal) Merge(h http.Header) *Terminal {
	for k, vs := range h {
		for _, v := range vs {
			t.Header.Add(k, v)
		}
	}
	return t
}

// Write emits the terminal to w. It must be the last write on w.
func (t *Terminal) Write(w http.ResponseWriter) {
	for k, vs := range t.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(t.Status)
	if len(t.Body) > 0 {
		_, _ = w.Write(t.Body)
	}
}

// Location returns the Location header, if any.
func (t *Terminal) Location() string { return t.Header.Get("Location") }
