// Package detection runs face detection attempts for the Deteksi Wajah
// page: an injectable Detector and the per-session state machine around it.
package detection

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

var (
	// ErrImageRequired is returned when detection starts without an image.
	ErrImageRequired = errors.New("image required")
	// ErrDetectionInProgress is returned while a detection is loading.
	ErrDetectionInProgress = errors.New("detection in progress")
	// ErrClosed is returned by a machine after Close.
	ErrClosed = errors.New("detection machine closed")
)

// Identity is the student a detection matched.
type Identity struct {
	Name    string `json:"name"`
	NIM     string `json:"nim"`
	Program string `json:"program"`
	Photo   string `json:"photo"`
}

// Outcome is what a Detector returns for one image.
type Outcome struct {
	Matched   bool
	Student   Identity
	Accuracy  string
	Timestamp time.Time
}

// Detector identifies the face in an image payload (a data URI).
type Detector interface {
	Detect(ctx context.Context, image string) (Outcome, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, image string) (Outcome, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, image string) (Outcome, error) {
	return f(ctx, image)
}

// DemoIdentity is the student every simulated match reports.
var DemoIdentity = Identity{
	Name:    "Budi Santoso",
	NIM:     "190041234",
	Program: "Teknik Informatika",
	Photo:   "https://i.pravatar.cc/150?img=1",
}

// DemoAccuracy is the accuracy every simulated match reports.
const DemoAccuracy = "96.8%"

// Simulator stands in for a recognition model: after Delay it matches
// DemoIdentity with probability MatchProbability.
type Simulator struct {
	Delay            time.Duration
	MatchProbability float64
	Rand             func() float64
	Now              func() time.Time
}

// NewSimulator creates a simulator using math/rand and the wall clock.
func NewSimulator(delay time.Duration, matchProbability float64) *Simulator {
	return &Simulator{
		Delay:            delay,
		MatchProbability: matchProbability,
		Rand:             rand.Float64,
		Now:              time.Now,
	}
}

// Detect waits Delay, then flips the coin. It returns ctx.Err() if ctx ends
// first.
func (s *Simulator) Detect(ctx context.Context, image string) (Outcome, error) {
	if image == "" {
		return Outcome{}, ErrImageRequired
	}
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
	if s.Rand() < s.MatchProbability {
		return Outcome{Matched: true, Student: DemoIdentity, Accuracy: DemoAccuracy, Timestamp: s.Now()}, nil
	}
	return Outcome{Timestamp: s.Now()}, nil
}
