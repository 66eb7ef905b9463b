// Package dashboard builds the role-aware shell and the summary shown on
// the home page.
package dashboard

import (
	"math"
	"strings"
	"time"

	"facescan/internal/history"
	"facescan/internal/navigation"
	"facescan/internal/session"
)

// RecentLimit is the number of detections on the home page table.
const RecentLimit = 4

// Layout is the sidebar and header of the dashboard shell.
type Layout struct {
	Title     string                `json:"title"`
	RoleLabel string                `json:"role_label"`
	Role      session.Role          `json:"role"`
	Menu      []navigation.MenuItem `json:"menu"`
}

// LayoutFor returns the shell for a role.
func LayoutFor(role session.Role) Layout {
	l := Layout{Role: role, Menu: navigation.Menu(role)}
	switch role {
	case session.RoleAdmin:
		l.Title, l.RoleLabel = "Management Dashboard", "Administrator"
	default:
		l.Title, l.RoleLabel = "User Dashboard", "User"
	}
	return l
}

// Summary is the home page statistics block.
type Summary struct {
	TotalStudents   int             `json:"total_students"`
	DetectionsToday int             `json:"detections_today"`
	TotalHistory    int             `json:"total_history"`
	Matched         int             `json:"matched"`
	NotFound        int             `json:"not_found"`
	MatchRate       float64         `json:"match_rate"`
	Recent          []history.Entry `json:"recent"`
}

// Summarize computes the summary from the roster size and the full log.
// today is compared on its local calendar date.
func Summarize(students int, entries []history.Entry, today time.Time) Summary {
	stats := history.Summarize(entries)
	s := Summary{
		TotalStudents: students,
		TotalHistory:  stats.Total,
		Matched:       stats.Match,
		NotFound:      stats.NotFound,
	}
	if stats.Total > 0 {
		s.MatchRate = math.Round(float64(stats.Match)/float64(stats.Total)*1000) / 10
	}

	date := today.Format(time.DateOnly)
	for _, e := range entries {
		if strings.HasPrefix(e.Timestamp, date) {
			s.DetectionsToday++
		}
	}

	recent := history.Sort(entries, history.Desc)
	if len(recent) > RecentLimit {
		recent = recent[:RecentLimit]
	}
	s.Recent = recent
	return s
}
