// Package presence stores and streams the live "currently studying" flag of
// every user. Flags live in a single Redis hash; every write is announced on a
// pub/sub channel so subscribers can re-read the full snapshot.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	StatusKey     = "study_status"
	ChangeChannel = "study_status:changed"
)

// Snapshot maps user id to whether that user is studying. Each snapshot is a
// complete replacement of the previous one.
type Snapshot map[string]bool

type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Set writes the flag and announces the change in one transaction.
func (s *Store) Set(ctx context.Context, userID string, studying bool) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, StatusKey, userID, strconv.FormatBool(studying))
		pipe.Publish(ctx, ChangeChannel, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set study status for %s: %w", userID, err)
	}
	return nil
}

// Get reports whether userID is studying. Unknown users are not studying.
func (s *Store) Get(ctx context.Context, userID string) (bool, error) {
	val, err := s.client.HGet(ctx, StatusKey, userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get study status for %s: %w", userID, err)
	}
	return parseFlag(val), nil
}

func (s *Store) GetAll(ctx context.Context) (Snapshot, error) {
	raw, err := s.client.HGetAll(ctx, StatusKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read study statuses: %w", err)
	}

	snap := make(Snapshot, len(raw))
	for userID, val := range raw {
		snap[userID] = parseFlag(val)
	}
	return snap, nil
}

// Anything that is not a recognisable true counts as false.
func parseFlag(val string) bool {
	b, err := strconv.ParseBool(val)
	return err == nil && b
}
