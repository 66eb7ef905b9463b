package history

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"facescan/internal/queue"
)

// EncodeMessage wraps a detection entry for the queue.
func EncodeMessage(e Entry) (queue.Message, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return queue.Message{}, fmt.Errorf("encode history entry: %w", err)
	}
	return queue.Message{Type: queue.TypeDetection, Body: body}, nil
}

// Recorder appends detection messages from the queue to a Store.
type Recorder struct {
	store *Store
	log   *zap.Logger
}

// NewRecorder creates a recorder writing into store.
func NewRecorder(store *Store, log *zap.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

// Run consumes msgs until the channel closes.
func (r *Recorder) Run(ctx context.Context, msgs <-chan queue.Message) {
	for msg := range msgs {
		if msg.Type != queue.TypeDetection {
			continue
		}
		e, err := r.Handle(msg)
		if err != nil {
			r.log.Warn("dropping detection message", zap.Error(err))
			continue
		}
		r.log.Debug("detection recorded", zap.Int("id", e.ID), zap.String("status", string(e.Status)))
	}
	r.log.Info("history recorder stopped", zap.Error(ctx.Err()))
}

// Handle decodes and appends a single message.
func (r *Recorder) Handle(msg queue.Message) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		return Entry{}, fmt.Errorf("decode history entry: %w", err)
	}
	return r.store.Append(e)
}
