package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyStarted is returned when Start is called twice on one coordinator
var ErrAlreadyStarted = errors.New("coordinator already started")

// Snapshot is the fully-formed result of one completed fetch cycle. Data is
// replaced by single assignment, so subscribers always see a consistent
// payload; on a failed cycle Data carries the previous successful payload
// (stale-but-available) and Degraded is set.
type Snapshot struct {
	Data       interface{} `json:"data"`
	Err        error       `json:"-"`
	Degraded   bool        `json:"degraded"`
	HasData    bool        `json:"has_data"`
	Generation uint64      `json:"generation"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Listener receives one Snapshot per completed fetch cycle. It is invoked
// synchronously within the notification pass and must not block; hand off
// to a separate goroutine for I/O.
type Listener func(snap Snapshot)

type listenerEntry struct {
	id int64
	fn Listener
}

// cycle tracks one in-flight fetch so coalesced waiters observe the result
// of the cycle they joined, not a later one
type cycle struct {
	done chan struct{}
	err  error
}

// UpdateCoordinator owns the single polling loop for one config entry. It
// invokes the integration's fetch on an interval, caches the latest
// successful payload, and fans results out to subscribed entities.
type UpdateCoordinator struct {
	domain  string
	entryID string
	fetch   types.FetchFunc
	timeout time.Duration

	// failureThreshold is the number of consecutive failures after which
	// the coordinator reports itself unhealthy
	failureThreshold int

	logger *logrus.Entry

	mu                  sync.Mutex
	data                interface{}
	hasData             bool
	lastErr             error
	generation          uint64
	consecutiveFailures int

	listeners  []listenerEntry
	nextListID int64

	current *cycle

	started bool
	stopped bool
	stopCh  chan struct{}
}

// Options configures a new coordinator
type Options struct {
	Domain           string
	EntryID          string
	Fetch            types.FetchFunc
	FetchTimeout     time.Duration
	FailureThreshold int
}

// New creates a coordinator; it does not start polling until Start is called
func New(opts Options, logger *logrus.Logger) *UpdateCoordinator {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return &UpdateCoordinator{
		domain:           opts.Domain,
		entryID:          opts.EntryID,
		fetch:            opts.Fetch,
		timeout:          timeout,
		failureThreshold: threshold,
		stopCh:           make(chan struct{}),
		logger: logger.WithFields(logrus.Fields{
			"component": "coordinator",
			"domain":    opts.Domain,
			"entry_id":  opts.EntryID,
		}),
	}
}

// Start begins periodic scheduling at the given interval. Calling Start
// twice on the same instance fails with ErrAlreadyStarted.
func (c *UpdateCoordinator) Start(interval time.Duration) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	c.logger.WithField("interval", interval.String()).Info("Coordinator started")
	go c.run(interval)
	return nil
}

func (c *UpdateCoordinator) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			// A scheduled tick is skipped, not queued, while a fetch
			// is already running
			if c.fetchInFlight() {
				c.logger.Debug("Skipping scheduled refresh, fetch in flight")
				observeSkip(c.domain)
				continue
			}
			if err := c.RefreshOnce(context.Background()); err != nil {
				c.logger.WithError(err).Warn("Scheduled refresh failed")
			}
		}
	}
}

// Stop cancels the scheduled loop. Idempotent. An in-flight fetch is not
// interrupted; its result is still applied and delivered.
func (c *UpdateCoordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stopCh)
	c.logger.Info("Coordinator stopped")
}

// RequestRefresh requests an out-of-band fetch. If a fetch is already in
// flight the request is coalesced into it: no duplicate call reaches the
// integration, and this call returns when the in-flight fetch resolves.
func (c *UpdateCoordinator) RequestRefresh(ctx context.Context) error {
	c.mu.Lock()
	if cur := c.current; cur != nil {
		c.mu.Unlock()
		select {
		case <-cur.done:
			return cur.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Unlock()
	return c.RefreshOnce(ctx)
}

// RefreshOnce performs exactly one fetch cycle: bounded timeout, atomic
// snapshot replacement on success, stale-data retention on failure, and one
// notification pass either way. Concurrent callers coalesce onto the same
// cycle.
func (c *UpdateCoordinator) RefreshOnce(ctx context.Context) error {
	c.mu.Lock()
	if cur := c.current; cur != nil {
		c.mu.Unlock()
		<-cur.done
		return cur.err
	}
	cur := &cycle{done: make(chan struct{})}
	c.current = cur
	c.mu.Unlock()

	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	data, err := c.fetch(fetchCtx)
	cancel()

	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		// The timeout belongs to the coordinator, not the integration; a
		// hanging client call surfaces as a transient failure
		err = types.NewConnectivityError("fetch timed out", err)
	}

	c.mu.Lock()
	c.current = nil
	cur.err = err
	if err == nil {
		c.data = data
		c.hasData = true
		c.lastErr = nil
		c.consecutiveFailures = 0
		c.generation++
	} else {
		c.lastErr = err
		c.consecutiveFailures++
	}
	snap := c.snapshotLocked()
	listeners := make([]listenerEntry, len(c.listeners))
	copy(listeners, c.listeners)
	failures := c.consecutiveFailures
	c.mu.Unlock()

	observeFetch(c.domain, err, time.Since(start))

	if err != nil {
		c.logger.WithError(err).WithField("consecutive_failures", failures).Debug("Fetch failed")
	}

	// Subscribers are notified in registration order, exactly once per
	// completed cycle
	for _, l := range listeners {
		l.fn(snap)
	}

	close(cur.done)
	return err
}

// AddListener registers a callback invoked once per completed fetch cycle.
// The returned cancel function deregisters it and is safe to call more
// than once.
func (c *UpdateCoordinator) AddListener(fn Listener) func() {
	c.mu.Lock()
	c.nextListID++
	id := c.nextListID
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.removeListener(id)
		})
	}
}

func (c *UpdateCoordinator) removeListener(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of registered listeners
func (c *UpdateCoordinator) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Snapshot returns the latest completed-cycle snapshot
func (c *UpdateCoordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *UpdateCoordinator) snapshotLocked() Snapshot {
	return Snapshot{
		Data:       c.data,
		Err:        c.lastErr,
		Degraded:   c.lastErr != nil,
		HasData:    c.hasData,
		Generation: c.generation,
		UpdatedAt:  time.Now().UTC(),
	}
}

// Healthy reports whether consecutive failures are below the threshold
func (c *UpdateCoordinator) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFailures < c.failureThreshold
}

// LastError returns the error from the most recent failed cycle, or nil
func (c *UpdateCoordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Domain returns the owning integration domain
func (c *UpdateCoordinator) Domain() string { return c.domain }

// EntryID returns the owning config entry ID
func (c *UpdateCoordinator) EntryID() string { return c.entryID }

func (c *UpdateCoordinator) fetchInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}
