package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrFeedClosed = errors.New("presence feed closed by server")

type snapshotReader interface {
	GetAll(ctx context.Context) (Snapshot, error)
}

// Feed turns change notifications on ChangeChannel into a stream of full
// presence snapshots.
type Feed struct {
	pubsub *redis.Client
	store  snapshotReader
	logger *zap.Logger
}

func NewFeed(pubsubClient *redis.Client, store *Store, logger *zap.Logger) *Feed {
	return &Feed{pubsub: pubsubClient, store: store, logger: logger}
}

// Subscription is one live view of the feed. Updates is closed when the
// subscription ends; Err then tells a failure from a Close.
type Subscription struct {
	updates chan Snapshot
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

// Subscribe emits the current snapshot right away and a fresh one after every
// change. A slow reader only ever sees the newest snapshot.
func (f *Feed) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := f.pubsub.Subscribe(ctx, ChangeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", ChangeChannel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		updates: make(chan Snapshot, 1),
		pubsub:  pubsub,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go sub.run(runCtx, f.store, f.logger)

	return sub, nil
}

func (s *Subscription) Updates() <-chan Snapshot {
	return s.updates
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the Redis subscription. It is safe to call more than once and
// nothing is delivered on Updates after it returns.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		s.pubsub.Close()
		<-s.done
		for range s.updates {
		}
	})
}

func (s *Subscription) run(ctx context.Context, store snapshotReader, logger *zap.Logger) {
	defer close(s.done)
	defer close(s.updates)

	msgs := s.pubsub.Channel()

	if !s.emit(ctx, store) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				if ctx.Err() == nil {
					s.fail(ErrFeedClosed)
					logger.Warn("presence feed channel closed")
				}
				return
			}
			if !s.emit(ctx, store) {
				if err := s.Err(); err != nil {
					logger.Warn("presence snapshot read failed", zap.Error(err))
				}
				return
			}
		}
	}
}

func (s *Subscription) emit(ctx context.Context, store snapshotReader) bool {
	snap, err := store.GetAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.fail(err)
		}
		return false
	}

	for {
		select {
		case s.updates <- snap:
			return true
		case <-ctx.Done():
			return false
		default:
			// drop the unread older snapshot
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
