package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"streamspeech/config"
	"streamspeech/internal/clientdetect"
	"streamspeech/internal/jobtracker"
	"streamspeech/internal/logger"
	"streamspeech/internal/modelmanager"
	"streamspeech/internal/vad"
)

// Default session housekeeping, grounded in the teacher's session.Manager.
const (
	DefaultSessionTimeout = 5 * time.Minute
	CleanupInterval       = 30 * time.Second
)

// Manager owns the live session table: creation, lookup, idle cleanup, and
// orderly shutdown.
type Manager struct {
	cfg   *config.Config
	mm    *modelmanager.Manager
	jt    *jobtracker.Tracker
	store *TokenStore

	mu       sync.RWMutex
	sessions map[string]*Session

	totalSessions  int64
	activeSessions int64

	cleanupTicker  *time.Ticker
	sessionTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager builds a session Manager bound to the given model manager, job
// tracker, and token store.
func NewManager(cfg *config.Config, mm *modelmanager.Manager, jt *jobtracker.Tracker, store *TokenStore) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:            cfg,
		mm:             mm,
		jt:             jt,
		store:          store,
		sessions:       make(map[string]*Session),
		ctx:            ctx,
		cancel:         cancel,
		sessionTimeout: DefaultSessionTimeout,
	}
	m.startCleanupRoutine()
	return m
}

func (m *Manager) startCleanupRoutine() {
	m.cleanupTicker = time.NewTicker(CleanupInterval)
	go func() {
		for {
			select {
			case <-m.cleanupTicker.C:
				m.cleanupInactiveSessions()
			case <-m.ctx.Done():
				m.cleanupTicker.Stop()
				return
			}
		}
	}()
	logger.Info("session_cleanup_routine_started", "interval", CleanupInterval, "timeout", m.sessionTimeout)
}

func (m *Manager) cleanupInactiveSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixNano()
	timeoutNano := int64(m.sessionTimeout)
	cleaned := 0

	for id, sess := range m.sessions {
		lastSeen := atomic.LoadInt64(&sess.LastSeen)
		if now-lastSeen > timeoutNano {
			logger.Warn("session_timeout_cleanup", "session_id", id)
			sess.Close()
			delete(m.sessions, id)
			atomic.AddInt64(&m.activeSessions, -1)
			cleaned++
		}
	}

	if cleaned > 0 {
		logger.Info("session_cleanup_completed", "cleaned_count", cleaned, "remaining", len(m.sessions))
	}
}

// CreateSession authenticates and constructs a new session bound to conn.
// It returns ErrServerBusy if the server is already at max_connections.
func (m *Manager) CreateSession(sessionID string, conn *websocket.Conn, remoteAddr string, token string, clientType clientdetect.ClientType) (*Session, error) {
	m.mu.RLock()
	count := len(m.sessions)
	m.mu.RUnlock()
	if m.cfg.Server.MaxConnections > 0 && count >= m.cfg.Server.MaxConnections {
		return nil, ErrServerBusy
	}

	authed, clientName, isAdmin := Authenticate(m.cfg.Auth, m.store, token, remoteAddr)

	det, err := vad.New(m.cfg.VAD, m.cfg.Audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("session: building detector: %w", err)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	sess := newSession(m.cfg, m.mm, m.jt, sessionID, conn, remoteAddr, clientType, det, ctx, cancel)
	if authed {
		sess.MarkAuthenticated(clientName, isAdmin)
	}

	var releaseRealtime func()
	if m.cfg.LiveTranscriber.Enabled && sess.Capabilities.SupportsPreview {
		if re, err := m.mm.GetOrCreateRealtimeEngine(sessionID); err == nil {
			sess.realtime = re
			releaseRealtime = func() { m.mm.ReleaseRealtimeEngine(sessionID) }
		} else {
			logger.Warn("realtime_engine_unavailable", "session_id", sessionID, "error", err)
		}
	}
	sess.releaseFn = func() {
		if releaseRealtime != nil {
			releaseRealtime()
		}
		det.Close()
	}

	go sess.sendLoop()

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	atomic.AddInt64(&m.totalSessions, 1)
	atomic.AddInt64(&m.activeSessions, 1)

	return sess, nil
}

// AuthenticateToken checks token against this manager's auth configuration
// and token store, for use by the WebSocket gateway's post-connect auth
// envelope. It returns the identity to bind to the session alongside the
// pass/fail verdict.
func (m *Manager) AuthenticateToken(token, remoteAddr string) (ok bool, clientName string, isAdmin bool) {
	return Authenticate(m.cfg.Auth, m.store, token, remoteAddr)
}

// GetSession retrieves a session by ID, refreshing its last-seen timestamp.
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		atomic.StoreInt64(&sess.LastSeen, time.Now().UnixNano())
	}
	return sess, ok
}

// RemoveSession closes and forgets a session.
func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		sess.Close()
		delete(m.sessions, sessionID)
		atomic.AddInt64(&m.activeSessions, -1)
		logger.Info("session_removed", "session_id", sessionID)
	}
}

// Stats summarizes session-manager activity for /stats.
type Stats struct {
	TotalSessions  int64 `json:"total_sessions"`
	ActiveSessions int64 `json:"active_sessions"`
	CurrentCount   int   `json:"current_sessions"`
}

// GetStats returns manager statistics.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		TotalSessions:  atomic.LoadInt64(&m.totalSessions),
		ActiveSessions: atomic.LoadInt64(&m.activeSessions),
		CurrentCount:   len(m.sessions),
	}
}

// Shutdown closes every live session and stops housekeeping.
func (m *Manager) Shutdown() {
	logger.Info("shutting_down_session_manager")
	m.cancel()
	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}

	m.mu.Lock()
	for id, sess := range m.sessions {
		logger.Info("closing_session", "session_id", id)
		sess.Close()
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	logger.Info("session_manager_shutdown_complete")
}
