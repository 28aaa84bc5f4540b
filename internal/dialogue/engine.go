// Package dialogue runs the tool-calling conversation between a user and the
// chat model.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/vbonduro/prescriptly/internal/domain"
	"github.com/vbonduro/prescriptly/internal/llm"
	"github.com/vbonduro/prescriptly/internal/logging"
)

var (
	// ErrSessionBusy is returned when Send is called while another Send for
	// the same session is still running.
	ErrSessionBusy  = errors.New("a message is already being processed")
	ErrEmptyMessage = errors.New("message is empty")
)

const (
	Greeting       = "Hi, I’m Prescriptly AI. How can I help you today?"
	FailureMessage = "I'm having trouble connecting to the server. Please try again later."
	// ToolLimitMessage replaces the reply when the model keeps requesting
	// tools past the round limit.
	ToolLimitMessage = "Sorry, I couldn't finish that request. Please check your cart and try again."
)

const DefaultMaxToolRounds = 5

// catalogLister is the subset of store.CatalogStore the engine requires.
type catalogLister interface {
	List(ctx context.Context) ([]*domain.Medicine, error)
}

// turnLog is the subset of store.TurnStore the engine requires.
type turnLog interface {
	Append(ctx context.Context, userID string, sender domain.Sender, text string) (*domain.Turn, error)
	List(ctx context.Context, userID string) ([]*domain.Turn, error)
}

// ToolRunner executes the tools the model asks for.
type ToolRunner interface {
	Tools() []llm.ToolDeclaration
	DispatchBatch(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult
	ObserveUserTurn()
}

type Options struct {
	MaxToolRounds int
	// ClearNeedsToken adds the clearCart confirmation-token rule to the
	// system policy.
	ClearNeedsToken bool
}

// Engine owns one user's conversation. The model-facing history lives in
// memory; the user-visible turn log is persisted.
type Engine struct {
	model   llm.ChatModel
	catalog catalogLister
	turns   turnLog
	tools   ToolRunner
	userID  string
	opts    Options
	logger  *slog.Logger

	busy atomic.Bool

	// Only touched while busy is held.
	system  string
	history []llm.Message
}

func New(model llm.ChatModel, catalog catalogLister, turns turnLog, tools ToolRunner, userID string, opts Options, logger *slog.Logger) *Engine {
	if opts.MaxToolRounds < 1 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		model:   model,
		catalog: catalog,
		turns:   turns,
		tools:   tools,
		userID:  userID,
		opts:    opts,
		logger:  logger.With("component", "dialogue", "user_id", userID),
	}
}

// History returns the turn log, starting with the greeting.
func (e *Engine) History(ctx context.Context) ([]*domain.Turn, error) {
	turns, err := e.turns.List(ctx, e.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	if len(turns) > 0 {
		return turns, nil
	}
	greeting, err := e.turns.Append(ctx, e.userID, domain.SenderAgent, Greeting)
	if err != nil {
		return nil, fmt.Errorf("failed to append greeting: %w", err)
	}
	return []*domain.Turn{greeting}, nil
}

// Busy reports whether a Send is in flight.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// Retire holds the engine busy for good so no further Send can start. It
// reports false, leaving the engine usable, when a Send is already in flight.
func (e *Engine) Retire() bool {
	return e.busy.CompareAndSwap(false, true)
}

// Send records the user's message, runs the model and tool loop, and records
// the reply. Model and transport failures never surface as errors: the reply
// becomes FailureMessage and cart changes already made are kept. The error
// return covers only rejected input and turn log failures.
func (e *Engine) Send(ctx context.Context, text string) (*domain.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrSessionBusy
	}
	defer e.busy.Store(false)

	logger := logging.FromContext(ctx, e.logger)

	if _, err := e.History(ctx); err != nil {
		return nil, err
	}
	if _, err := e.turns.Append(ctx, e.userID, domain.SenderUser, text); err != nil {
		return nil, fmt.Errorf("failed to append user turn: %w", err)
	}
	e.tools.ObserveUserTurn()

	reply, err := e.converse(ctx, logger, text)
	if err != nil {
		logger.Error("chat turn failed", "error", err)
		reply = FailureMessage
	}

	// The reply is recorded even if the caller has gone away.
	turn, err := e.turns.Append(context.WithoutCancel(ctx), e.userID, domain.SenderAgent, reply)
	if err != nil {
		return nil, fmt.Errorf("failed to append agent turn: %w", err)
	}
	return turn, nil
}

func (e *Engine) converse(ctx context.Context, logger *slog.Logger, text string) (string, error) {
	if e.system == "" {
		meds, err := e.catalog.List(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to load inventory: %w", err)
		}
		e.system = RenderPolicy(meds, e.opts.ClearNeedsToken)
		logger.Debug("chat session initialized", "inventory_size", len(meds))
	}

	mark := len(e.history)
	e.history = append(e.history, llm.UserText(text))

	for round := 0; ; round++ {
		resp, err := e.model.Converse(ctx, llm.ChatRequest{
			System:   e.system,
			Messages: e.history,
			Tools:    e.tools.Tools(),
		})
		if err != nil {
			e.history = e.history[:mark]
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			reply := strings.TrimSpace(resp.Text)
			if reply == "" {
				e.history = e.history[:mark]
				return "", fmt.Errorf("%w: empty reply", llm.ErrModelInvoke)
			}
			e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Text: reply})
			return reply, nil
		}

		if round >= e.opts.MaxToolRounds {
			logger.Warn("tool round limit reached", "rounds", round, "pending_calls", len(resp.ToolCalls))
			e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Text: ToolLimitMessage})
			return ToolLimitMessage, nil
		}

		results := e.tools.DispatchBatch(ctx, resp.ToolCalls)
		logger.Info("tool batch dispatched", "round", round+1, "calls", len(resp.ToolCalls))
		e.history = append(e.history,
			llm.Message{Role: llm.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls},
			llm.Message{Role: llm.RoleTool, ToolResults: results},
		)
	}
}
