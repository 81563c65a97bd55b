// Package roster keeps the leaderboard: a cached, sorted list of users and
// their accumulated study time, refreshed from the store on demand and kept
// current by merging live presence snapshots.
package roster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"jigaku-backend/internal/metrics"
	"jigaku-backend/internal/models"
	"jigaku-backend/internal/presence"
	"jigaku-backend/internal/timefmt"
)

const DefaultValidityWindow = 30 * time.Second

var ErrClosed = errors.New("roster cache closed")

type Source interface {
	FetchAll(ctx context.Context) ([]models.UserRecord, error)
	FetchAllWithPresence(ctx context.Context) ([]models.UserRecord, error)
}

// PresenceStream is a live presence subscription. Updates is closed when the
// stream ends and Err reports why.
type PresenceStream interface {
	Updates() <-chan presence.Snapshot
	Err() error
	Close()
}

type PresenceFeed interface {
	Subscribe(ctx context.Context) (PresenceStream, error)
}

// PresenceFeedFunc adapts a function to PresenceFeed.
type PresenceFeedFunc func(ctx context.Context) (PresenceStream, error)

func (f PresenceFeedFunc) Subscribe(ctx context.Context) (PresenceStream, error) {
	return f(ctx)
}

// State is what consumers render.
type State struct {
	Users          []models.UserRecord `json:"users"`
	FormattedTimes map[string]string   `json:"formatted_times"`
	IsLoading      bool                `json:"is_loading"`
	Refreshing     bool                `json:"refreshing"`
	Error          string              `json:"error,omitempty"`
	HasInitialLoad bool                `json:"has_initial_load"`
	LastLoadAt     time.Time           `json:"last_load_at"`
}

func (s State) clone() State {
	out := s
	out.Users = make([]models.UserRecord, len(s.Users))
	copy(out.Users, s.Users)
	out.FormattedTimes = make(map[string]string, len(s.FormattedTimes))
	for k, v := range s.FormattedTimes {
		out.FormattedTimes[k] = v
	}
	return out
}

type Options struct {
	ValidityWindow time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

type Cache struct {
	source  Source
	feed    PresenceFeed
	window  time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	// mu guards everything below up to listenMu. Loads and merges both
	// write state while holding it.
	mu          sync.RWMutex
	state       State
	inflight    int
	generation  uint64
	watchers    map[int]chan State
	nextWatcher int
	closed      bool

	listenMu sync.Mutex
	listener *listener
}

type listener struct {
	stream     PresenceStream
	generation uint64
	done       chan struct{}
}

func New(source Source, feed PresenceFeed, opts Options) *Cache {
	if opts.ValidityWindow <= 0 {
		opts.ValidityWindow = DefaultValidityWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Cache{
		source:  source,
		feed:    feed,
		window:  opts.ValidityWindow,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		state: State{
			Users:          []models.UserRecord{},
			FormattedTimes: map[string]string{},
		},
		watchers: make(map[int]chan State),
	}
}

// EnsureLoaded performs a full load unless a non-empty roster was loaded
// within the validity window.
func (c *Cache) EnsureLoaded(ctx context.Context, withPresence bool) error {
	c.mu.RLock()
	fresh := c.state.HasInitialLoad &&
		c.now().Sub(c.state.LastLoadAt) < c.window &&
		len(c.state.Users) > 0
	c.mu.RUnlock()

	if fresh {
		c.metrics.RosterCacheHit()
		return nil
	}
	return c.load(ctx, withPresence)
}

// ForceRefresh performs a full load regardless of cache age.
func (c *Cache) ForceRefresh(ctx context.Context, withPresence bool) error {
	return c.load(ctx, withPresence)
}

// load does not serialise with other loads; the last one to finish wins.
func (c *Cache) load(ctx context.Context, withPresence bool) error {
	c.mu.Lock()
	c.inflight++
	if c.state.HasInitialLoad {
		c.state.Refreshing = true
		c.state.IsLoading = false
	} else {
		c.state.IsLoading = true
		c.state.Refreshing = false
	}
	c.publishLocked()
	c.mu.Unlock()

	var (
		users []models.UserRecord
		err   error
	)
	if withPresence {
		users, err = c.source.FetchAllWithPresence(ctx)
	} else {
		users, err = c.source.FetchAll(ctx)
	}

	c.mu.Lock()
	c.inflight--
	if err != nil {
		c.state.Error = err.Error()
	} else {
		users = normalize(users)
		c.state.Users = users
		c.state.FormattedTimes = formatTimes(users)
		c.state.Error = ""
		c.state.HasInitialLoad = true
		c.state.LastLoadAt = c.now()
	}
	if c.inflight == 0 {
		c.state.IsLoading = false
		c.state.Refreshing = false
	}
	c.publishLocked()
	c.mu.Unlock()

	if err != nil {
		c.metrics.RosterLoaded(false, 0)
		c.logger.Warn("roster load failed, keeping previous roster", zap.Error(err))
		return err
	}
	c.metrics.RosterLoaded(true, len(users))
	c.logger.Debug("roster loaded", zap.Int("users", len(users)), zap.Bool("with_presence", withPresence))

	if withPresence {
		if err := c.StartListening(); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warn("failed to start presence listener", zap.Error(err))
		}
	}
	return nil
}

// State returns a copy of the current state.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// FormattedTime returns the precomputed display string for userID.
func (c *Cache) FormattedTime(userID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.state.FormattedTimes[userID]; ok {
		return s
	}
	return timefmt.Studied(0)
}

// Watch streams state changes starting with the current state. Only the
// newest state is buffered. Call cancel to stop watching.
func (c *Cache) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	ch <- c.state.clone()
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w, ok := c.watchers[id]; ok {
				delete(c.watchers, id)
				close(w)
			}
		})
	}
	return ch, cancel
}

// publishLocked must be called with mu held.
func (c *Cache) publishLocked() {
	for _, ch := range c.watchers {
		st := c.state.clone()
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

// Close stops the presence listener and ends every watch.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.StopListening()

	c.mu.Lock()
	for id, ch := range c.watchers {
		delete(c.watchers, id)
		close(ch)
	}
	c.mu.Unlock()
}

func (c *Cache) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// StartListening subscribes to the presence feed and merges every snapshot
// into the roster. It is a no-op while a listener is live; after a stream
// failure it subscribes again.
func (c *Cache) StartListening() error {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}

	if l := c.listener; l != nil {
		select {
		case <-l.done:
			l.stream.Close()
			c.listener = nil
		default:
			return nil
		}
	}

	stream, err := c.feed.Subscribe(context.Background())
	if err != nil {
		return fmt.Errorf("failed to subscribe to presence feed: %w", err)
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	l := &listener{stream: stream, generation: gen, done: make(chan struct{})}
	c.listener = l
	go c.listen(l)

	c.logger.Debug("presence listener started")
	return nil
}

// StopListening releases the presence subscription. No merge is applied
// after it returns.
func (c *Cache) StopListening() {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()

	l := c.listener
	if l == nil {
		return
	}
	c.listener = nil

	c.mu.Lock()
	c.generation++
	c.mu.Unlock()

	l.stream.Close()
	<-l.done

	c.logger.Debug("presence listener stopped")
}

// Listening reports whether a presence stream is currently live.
func (c *Cache) Listening() bool {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()
	if c.listener == nil {
		return false
	}
	select {
	case <-c.listener.done:
		return false
	default:
		return true
	}
}

func (c *Cache) listen(l *listener) {
	defer close(l.done)

	for snap := range l.stream.Updates() {
		c.applyPresence(l.generation, snap)
	}

	if err := l.stream.Err(); err != nil {
		c.metrics.PresenceStreamFailed()
		c.logger.Warn("presence stream ended, flags frozen until resubscribed", zap.Error(err))
	}
}

func (c *Cache) applyPresence(gen uint64, snap presence.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}
	c.state.Users = mergePresence(c.state.Users, snap)
	c.metrics.PresenceMerged()
	c.publishLocked()
}
