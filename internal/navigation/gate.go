// Package navigation decides which dashboard page a session may see and
// which menu entries its role gets.
package navigation

import "facescan/internal/session"

// Dashboard page paths.
const (
	PathLogin     = "/login"
	PathHome      = "/"
	PathStudents  = "/mahasiswa"
	PathDetection = "/deteksi"
	PathHistory   = "/riwayat"
)

// Access is the requirement a page places on the session.
type Access int

const (
	Public Access = iota
	Authenticated
	AdminOnly
)

var pages = map[string]Access{
	PathLogin:     Public,
	PathHome:      Authenticated,
	PathDetection: Authenticated,
	PathHistory:   Authenticated,
	PathStudents:  AdminOnly,
}

// Outcome is the kind of a gate decision.
type Outcome string

const (
	Render   Outcome = "render"
	Redirect Outcome = "redirect"
	NotFound Outcome = "not_found"
)

// Decision is what the gate tells the router to do. Path is the page to
// render, or the redirect target.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Path    string  `json:"path"`
}

// Gate resolves a requested path against the session.
func Gate(s session.Session, path string) Decision {
	access, ok := pages[path]
	if !ok {
		return Decision{Outcome: NotFound, Path: path}
	}
	switch access {
	case Authenticated:
		if !s.LoggedIn {
			return Decision{Outcome: Redirect, Path: PathLogin}
		}
	case AdminOnly:
		if !s.LoggedIn {
			return Decision{Outcome: Redirect, Path: PathLogin}
		}
		if !s.Admin {
			return Decision{Outcome: Redirect, Path: PathHome}
		}
	}
	return Decision{Outcome: Render, Path: path}
}
