package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"socialsync/internal/models"
	"socialsync/internal/observability"
	"socialsync/internal/reconcile"
	"socialsync/internal/service"
)

// Watch kinds accepted by the API.
const (
	WatchComments     = "comments"
	WatchConversation = "conversation"
	WatchProfile      = "profile"
)

var (
	errManagerClosed  = errors.New("session manager is closed")
	errSessionDropped = errors.New("session was dropped while starting")
)

type watchKey struct {
	kind   string
	target string
}

// managedSession is registered before its session starts; ready closes once
// session or err is set.
type managedSession struct {
	ready   chan struct{}
	session *service.Session
	err     error
	cancel  func()
	used    atomic.Int64

	mu      sync.Mutex
	watches map[watchKey]*service.Watch
}

func (ms *managedSession) touch(now time.Time) { ms.used.Store(now.UnixNano()) }

func (ms *managedSession) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, ms.used.Load()))
}

func (ms *managedSession) started() bool {
	select {
	case <-ms.ready:
		return ms.err == nil
	default:
		return false
	}
}

// ManagerOption configures a SessionManager.
type ManagerOption func(*SessionManager)

// WithIdleTTL drops sessions nobody used for d and that have no live UI
// client. Zero disables the sweep.
func WithIdleTTL(d time.Duration) ManagerOption {
	return func(m *SessionManager) { m.idleTTL = d }
}

// WithPresence reports how many UI clients a user has connected. Sessions
// of connected users are never dropped for being idle.
func WithPresence(connected func(userID string) int) ManagerOption {
	return func(m *SessionManager) { m.connected = connected }
}

// SessionManager keeps one running sync session per signed-in user and the
// screen watches the API has opened on it.
type SessionManager struct {
	deps      service.Deps
	notify    func(userID string, ch reconcile.Change)
	connected func(userID string) int
	idleTTL   time.Duration
	now       func() time.Time
	log       *observability.SyncLogger

	mu       sync.Mutex
	sessions map[string]*managedSession
	closed   bool
	stop     chan struct{}
	sweeper  sync.WaitGroup
}

// NewSessionManager creates a manager. notify receives every local change of
// every session, tagged with its user.
func NewSessionManager(deps service.Deps, notify func(userID string, ch reconcile.Change), opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		deps:      deps,
		notify:    notify,
		connected: func(string) int { return 0 },
		now:       time.Now,
		log:       observability.NewSyncLogger("sessions"),
		sessions:  make(map[string]*managedSession),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.idleTTL > 0 {
		m.sweeper.Add(1)
		go m.sweepLoop()
	}
	return m
}

// Get returns the session of userID, starting it on first use.
func (m *SessionManager) Get(ctx context.Context, userID string) (*service.Session, error) {
	ms, err := m.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ms.session, nil
}

// acquire returns the ready entry of userID. The first caller starts the
// session without holding m.mu; later callers wait on ready.
func (m *SessionManager) acquire(ctx context.Context, userID string) (*managedSession, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errManagerClosed
	}
	ms, ok := m.sessions[userID]
	if !ok {
		ms = &managedSession{ready: make(chan struct{}), watches: make(map[watchKey]*service.Watch)}
		ms.touch(m.now())
		m.sessions[userID] = ms
	}
	m.mu.Unlock()

	if !ok {
		m.start(ctx, userID, ms)
	}
	select {
	case <-ms.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if ms.err != nil {
		return nil, ms.err
	}
	ms.touch(m.now())
	return ms, nil
}

func (m *SessionManager) start(ctx context.Context, userID string, ms *managedSession) {
	s, err := service.NewSession(m.deps, userID)
	if err == nil {
		if err = s.Start(ctx); err != nil {
			_ = s.Close(ctx)
			err = models.NewTransientError(err)
		}
	}
	if err == nil {
		ms.session = s
		if m.notify != nil {
			ms.cancel = s.Subscribe(func(ch reconcile.Change) { m.notify(userID, ch) })
		}
	}

	m.mu.Lock()
	current := m.sessions[userID] == ms
	if err != nil && current {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if err == nil && !current {
		// Dropped or closed while starting.
		if ms.cancel != nil {
			ms.cancel()
		}
		_ = s.Close(ctx)
		err = errSessionDropped
	}
	ms.err = err
	close(ms.ready)
}

// Watch returns the open watch of kind on target for userID, opening it
// when needed. It stays open until Unwatch or the session ends.
func (m *SessionManager) Watch(ctx context.Context, userID, kind, target string) (*service.Watch, error) {
	ms, err := m.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	key := watchKey{kind: kind, target: target}
	if w, ok := ms.watches[key]; ok {
		return w, nil
	}

	var w *service.Watch
	switch kind {
	case WatchComments:
		w, err = ms.session.WatchComments(ctx, target)
	case WatchConversation:
		w, err = ms.session.WatchConversation(ctx, target)
	case WatchProfile:
		w, err = ms.session.WatchProfile(ctx, target)
	default:
		return nil, models.NewValidationError("unknown watch kind " + kind)
	}
	if err != nil {
		return nil, err
	}
	ms.watches[key] = w
	return w, nil
}

// Unwatch closes a watch opened through Watch. Unknown watches are ignored.
func (m *SessionManager) Unwatch(userID, kind, target string) error {
	m.mu.Lock()
	ms, ok := m.sessions[userID]
	m.mu.Unlock()
	if !ok || !ms.started() {
		return nil
	}
	key := watchKey{kind: kind, target: target}
	ms.mu.Lock()
	w, ok := ms.watches[key]
	delete(ms.watches, key)
	ms.mu.Unlock()
	if !ok {
		return nil
	}
	return w.Close()
}

// Drop closes the session of userID.
func (m *SessionManager) Drop(ctx context.Context, userID string) error {
	m.mu.Lock()
	ms, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return closeManaged(ctx, ms)
}

// Release drops the session of userID unless the user still has a UI
// client connected. The hub calls it when a user's last client leaves.
func (m *SessionManager) Release(ctx context.Context, userID string) error {
	m.mu.Lock()
	ms, ok := m.sessions[userID]
	if !ok || m.connected(userID) > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, userID)
	m.mu.Unlock()

	m.log.LogLifecycle(ctx, "session_released", map[string]interface{}{"user_id": userID})
	return closeManaged(ctx, ms)
}

// Sweep drops every started session idle for longer than the TTL whose
// user has no UI client connected. It returns how many it dropped.
func (m *SessionManager) Sweep(ctx context.Context) int {
	if m.idleTTL <= 0 {
		return 0
	}
	now := m.now()
	victims := make(map[string]*managedSession)
	m.mu.Lock()
	for userID, ms := range m.sessions {
		if ms.started() && ms.idleSince(now) > m.idleTTL && m.connected(userID) == 0 {
			victims[userID] = ms
			delete(m.sessions, userID)
		}
	}
	m.mu.Unlock()

	for userID, ms := range victims {
		if err := closeManaged(ctx, ms); err != nil {
			m.log.LogWarn(ctx, "idle session close failed", err, map[string]interface{}{"user_id": userID})
		}
	}
	if len(victims) > 0 {
		m.log.LogLifecycle(ctx, "idle_sessions_dropped", map[string]interface{}{"count": len(victims)})
	}
	return len(victims)
}

func (m *SessionManager) sweepLoop() {
	defer m.sweeper.Done()
	interval := m.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.deps.Timeout+5*time.Second)
			m.Sweep(ctx)
			cancel()
		}
	}
}

// Len returns the number of running sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close ends every session and refuses new ones.
func (m *SessionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.stop)
	}
	all := m.sessions
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()
	m.sweeper.Wait()

	var errs []error
	for userID, ms := range all {
		if err := closeManaged(ctx, ms); err != nil {
			m.log.LogWarn(ctx, "session close failed", err, map[string]interface{}{"user_id": userID})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// closeManaged waits for a starting session before closing it.
func closeManaged(ctx context.Context, ms *managedSession) error {
	select {
	case <-ms.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if ms.session == nil {
		return nil
	}
	if ms.cancel != nil {
		ms.cancel()
	}
	return ms.session.Close(ctx)
}
