// Package session owns the per-user agent state: the conversation, the tool
// dispatcher, the voice adapter and the prescription flow.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/prescriptly/internal/dialogue"
	"github.com/vbonduro/prescriptly/internal/dispatch"
	"github.com/vbonduro/prescriptly/internal/domain"
	"github.com/vbonduro/prescriptly/internal/llm"
	"github.com/vbonduro/prescriptly/internal/photostore"
	"github.com/vbonduro/prescriptly/internal/prescription"
	"github.com/vbonduro/prescriptly/internal/store"
	"github.com/vbonduro/prescriptly/internal/voice"
)

// Deps are the shared collaborators every session is built from.
type Deps struct {
	Catalog *store.CatalogStore
	Carts   *store.CartStore
	Turns   *store.TurnStore
	Uploads *store.UploadStore
	Photos  photostore.PhotoStore

	Chat        llm.ChatModel
	Extractor   llm.Extractor
	Transcriber llm.Transcriber // nil disables voice input
}

type Options struct {
	MaxToolRounds         int
	ClearCartConfirmation bool
	VoiceErrorReset       time.Duration
}

type Session struct {
	User       domain.User
	Engine     *dialogue.Engine
	Dispatcher *dispatch.Dispatcher
	Voice      *voice.Adapter
	Flow       *prescription.Flow
}

// Manager creates sessions on first use and tears them down on logout.
type Manager struct {
	deps     Deps
	opts     Options
	analyzer *prescription.Analyzer
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps, opts Options, logger *slog.Logger) (*Manager, error) {
	if deps.Chat == nil {
		return nil, errors.New("session: chat model is required")
	}
	if deps.Extractor == nil {
		return nil, errors.New("session: extractor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		deps:     deps,
		opts:     opts,
		analyzer: prescription.NewAnalyzer(deps.Catalog, deps.Extractor, logger),
		logger:   logger,
		sessions: make(map[string]*Session),
	}, nil
}

// Get returns the user's session, creating it on first use.
func (m *Manager) Get(user domain.User) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[user.ID]; ok {
		return s, nil
	}

	disp, err := dispatch.New(m.deps.Catalog, m.deps.Carts, user.ID,
		dispatch.Options{RequireClearConfirmation: m.opts.ClearCartConfirmation}, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	engine := dialogue.New(m.deps.Chat, m.deps.Catalog, m.deps.Turns, disp, user.ID,
		dialogue.Options{MaxToolRounds: m.opts.MaxToolRounds, ClearNeedsToken: m.opts.ClearCartConfirmation}, m.logger)

	var rec voice.Recognizer
	if m.deps.Transcriber != nil {
		rec = m.deps.Transcriber
	}

	s := &Session{
		User:       user,
		Engine:     engine,
		Dispatcher: disp,
		Voice:      voice.New(rec, engine, voice.Options{ErrorReset: m.opts.VoiceErrorReset}, m.logger.With("user_id", user.ID)),
		Flow:       prescription.NewFlow(m.analyzer, m.deps.Carts, m.deps.Photos, m.deps.Uploads, user.ID, m.logger),
	}
	m.sessions[user.ID] = s
	m.logger.Info("session created", "user_id", user.ID)
	return s, nil
}

// Close ends the user's session. The conversation log and the cart are
// cleared, matching a logout.
//
// A session with a message still being processed is left open and Close
// returns dialogue.ErrSessionBusy, so the in-flight reply cannot land in a
// cleared log.
func (m *Manager) Close(ctx context.Context, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok && !s.Engine.Retire() {
		m.mu.Unlock()
		return fmt.Errorf("failed to close session: %w", dialogue.ErrSessionBusy)
	}
	delete(m.sessions, userID)
	m.mu.Unlock()

	if ok {
		s.Voice.Close()
	}
	if err := m.deps.Carts.Clear(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	if err := m.deps.Turns.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	m.logger.Info("session closed", "user_id", userID)
	return nil
}

// Shutdown releases every session without touching persisted state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.Voice.Close()
		delete(m.sessions, id)
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
