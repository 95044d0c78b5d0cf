package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fitfusion/fitfusion/internal/storage"
)

// KeyPendingWorkouts holds the JSON list of workouts waiting for upload.
const KeyPendingWorkouts = "fitfusion_pending_workouts"

// PendingWorkout is a workout recorded while offline.
type PendingWorkout struct {
	ID       string          `json:"id"`
	Payload  json.RawMessage `json:"payload"`
	QueuedAt time.Time       `json:"queuedAt"`
}

// WorkoutQueue holds workouts until a background sync uploads them.
type WorkoutQueue interface {
	Pending(ctx context.Context) ([]PendingWorkout, error)
	Remove(ctx context.Context, id string) error
}

// StoreQueue keeps the queue as one JSON list in a storage.KV.
type StoreQueue struct {
	kv storage.KV
}

// NewStoreQueue creates a queue over kv
func NewStoreQueue(kv storage.KV) *StoreQueue {
	return &StoreQueue{kv: kv}
}

// Enqueue appends a workout payload and returns its id
func (q *StoreQueue) Enqueue(ctx context.Context, payload json.RawMessage) (string, error) {
	if !json.Valid(payload) {
		return "", fmt.Errorf("enqueue: payload is not valid JSON")
	}
	w := PendingWorkout{
		ID:       uuid.NewString(),
		Payload:  payload,
		QueuedAt: time.Now().UTC(),
	}
	err := q.kv.Update(ctx, KeyPendingWorkouts, func(cur []byte, found bool) ([]byte, error) {
		list, err := decodeQueue(cur, found)
		if err != nil {
			return nil, err
		}
		return json.Marshal(append(list, w))
	})
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return w.ID, nil
}

// Pending returns queued workouts in insertion order
func (q *StoreQueue) Pending(ctx context.Context) ([]PendingWorkout, error) {
	data, err := q.kv.Get(ctx, KeyPendingWorkouts)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeQueue(data, true)
}

// Remove drops the workout with id
func (q *StoreQueue) Remove(ctx context.Context, id string) error {
	return q.kv.Update(ctx, KeyPendingWorkouts, func(cur []byte, found bool) ([]byte, error) {
		list, err := decodeQueue(cur, found)
		if err != nil {
			return nil, err
		}
		kept := list[:0]
		for _, w := range list {
			if w.ID != id {
				kept = append(kept, w)
			}
		}
		return json.Marshal(kept)
	})
}

func decodeQueue(data []byte, found bool) ([]PendingWorkout, error) {
	if !found || len(data) == 0 {
		return []PendingWorkout{}, nil
	}
	var list []PendingWorkout
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decoding %s: %w: %v", KeyPendingWorkouts, storage.ErrCorrupt, err)
	}
	return list, nil
}
