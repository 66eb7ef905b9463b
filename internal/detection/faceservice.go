package detection

import (
	"context"
	"fmt"
	"time"

	"facescan/internal/faceclient"
)

// Searcher is the part of the face service client a FaceService needs.
type Searcher interface {
	Search(ctx context.Context, image string, topK int, threshold float64) (*faceclient.SearchResult, error)
}

// LookupFunc resolves a NIM returned by the face service to a student.
type LookupFunc func(nim string) (Identity, bool)

// FaceService detects by 1:N search against the face recognition service.
type FaceService struct {
	client    Searcher
	threshold float64
	lookup    LookupFunc
	now       func() time.Time
}

// NewFaceService creates a detector backed by client. lookup may be nil.
func NewFaceService(client Searcher, threshold float64, lookup LookupFunc) *FaceService {
	return &FaceService{client: client, threshold: threshold, lookup: lookup, now: time.Now}
}

// Detect asks the service for the best match above the threshold.
func (f *FaceService) Detect(ctx context.Context, image string) (Outcome, error) {
	if image == "" {
		return Outcome{}, ErrImageRequired
	}
	res, err := f.client.Search(ctx, image, 1, f.threshold)
	if err != nil {
		return Outcome{}, fmt.Errorf("face search: %w", err)
	}
	if len(res.Matches) == 0 {
		return Outcome{Timestamp: f.now()}, nil
	}

	best := res.Matches[0]
	student := Identity{Name: best.Name, NIM: best.UserID}
	if f.lookup != nil {
		if known, ok := f.lookup(best.UserID); ok {
			student = known
		}
	}
	return Outcome{
		Matched:   true,
		Student:   student,
		Accuracy:  fmt.Sprintf("%.1f%%", best.Similarity*100),
		Timestamp: f.now(),
	}, nil
}
