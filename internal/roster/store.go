package roster

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"jigaku-backend/internal/models"
	"jigaku-backend/internal/presence"
)

type UserLister interface {
	ListRoster(ctx context.Context) ([]models.UserRecord, error)
}

type StatusLister interface {
	GetAll(ctx context.Context) (presence.Snapshot, error)
}

// Store fetches the authoritative roster: profiles and totals from the user
// repository, optionally joined with one presence snapshot.
type Store struct {
	users    UserLister
	statuses StatusLister
}

func NewStore(users UserLister, statuses StatusLister) *Store {
	return &Store{users: users, statuses: statuses}
}

// FetchAll returns every user with IsStudying false.
func (s *Store) FetchAll(ctx context.Context) ([]models.UserRecord, error) {
	users, err := s.users.ListRoster(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	for i := range users {
		users[i].IsStudying = false
	}
	return users, nil
}

// FetchAllWithPresence reads users and statuses concurrently and fails as a
// unit. Users missing from the snapshot are not studying.
func (s *Store) FetchAllWithPresence(ctx context.Context) ([]models.UserRecord, error) {
	var (
		users    []models.UserRecord
		statuses presence.Snapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.users.ListRoster(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch users: %w", err)
		}
		users = u
		return nil
	})
	g.Go(func() error {
		st, err := s.statuses.GetAll(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch study statuses: %w", err)
		}
		statuses = st
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range users {
		users[i].IsStudying = statuses[users[i].UserID]
	}
	return users, nil
}
