// Package voice funnels a single spoken utterance into the dialogue engine.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vbonduro/prescriptly/internal/auth"
	"github.com/vbonduro/prescriptly/internal/domain"
)

var (
	ErrUnsupported     = errors.New("speech recognition is not available")
	ErrUnauthenticated = errors.New("voice input requires a signed-in user")
	ErrNotListening    = errors.New("voice input is not listening")

	// Recognizers return these to select the matching error category.
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoSpeech         = errors.New("no speech detected")
)

type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateError     State = "error"
)

type ErrorCategory string

const (
	CategoryPermissionDenied ErrorCategory = "permission-denied"
	CategoryNoSpeech         ErrorCategory = "no-speech"
	CategoryOther            ErrorCategory = "other"
)

const (
	MessagePermissionDenied = "Microphone access is required for voice input."
	MessageNoSpeech         = "I couldn't hear that clearly. Please try again."
	MessageOther            = "Voice input failed. Please try again."
	MessageUnsupported      = "Speech recognition is not supported in this browser."
	MessageLoginRequired    = "Please log in to use voice commands"
)

const DefaultErrorReset = 3 * time.Second

// Recognizer converts one recorded utterance to text.
type Recognizer interface {
	Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error)
}

// Sender is the dialogue entry point recognized text is forwarded to.
type Sender interface {
	Send(ctx context.Context, text string) (*domain.Turn, error)
}

// Timer is the handle returned by Options.AfterFunc.
type Timer interface {
	Stop() bool
}

type Options struct {
	// ErrorReset is how long an error message stays up before the adapter
	// returns to idle.
	ErrorReset time.Duration
	// AfterFunc schedules f after d. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
}

// Status is a snapshot of the adapter.
type Status struct {
	State    State
	Category ErrorCategory
	Message  string
}

// Result is the outcome of a recognized utterance.
type Result struct {
	Transcript string
	Reply      *domain.Turn
}

type Adapter struct {
	recognizer Recognizer
	sender     Sender
	opts       Options
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	category   ErrorCategory
	message    string
	episode    uint64
	processing bool
	timer      Timer
}

// New builds an idle adapter. A nil recognizer means the capability is
// unavailable and every Start is rejected.
func New(recognizer Recognizer, sender Sender, opts Options, logger *slog.Logger) *Adapter {
	if opts.ErrorReset <= 0 {
		opts.ErrorReset = DefaultErrorReset
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		recognizer: recognizer,
		sender:     sender,
		opts:       opts,
		logger:     logger.With("component", "voice"),
		state:      StateIdle,
	}
}

func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked()
}

func (a *Adapter) statusLocked() Status {
	return Status{State: a.state, Category: a.category, Message: a.message}
}

// Start begins a listening episode. It is rejected without a state change
// when the recognizer is missing or no user is signed in.
func (a *Adapter) Start(ctx context.Context) (Status, error) {
	if _, ok := auth.CurrentUser(ctx); !ok {
		return a.Status(), ErrUnauthenticated
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.recognizer == nil {
		a.message = MessageUnsupported
		a.scheduleResetLocked()
		return a.statusLocked(), ErrUnsupported
	}
	if a.state == StateListening {
		return a.statusLocked(), nil
	}

	a.stopTimerLocked()
	a.episode++
	a.state = StateListening
	a.category = ""
	a.message = ""
	a.processing = false
	return a.statusLocked(), nil
}

// Stop ends the current episode without waiting for a result.
func (a *Adapter) Stop() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateListening {
		a.episode++
		a.state = StateIdle
		a.processing = false
	}
	return a.statusLocked()
}

// Fail reports an error raised while capturing audio, before anything was
// submitted. code uses the browser's speech error names ("not-allowed",
// "no-speech", anything else).
func (a *Adapter) Fail(code string) (Status, error) {
	var cause error
	switch code {
	case "not-allowed", "service-not-allowed":
		cause = ErrPermissionDenied
	case "no-speech":
		cause = ErrNoSpeech
	default:
		cause = fmt.Errorf("capture failed: %s", code)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateListening || a.processing {
		return a.statusLocked(), ErrNotListening
	}
	a.failLocked(cause)
	return a.statusLocked(), nil
}

// Submit recognizes one utterance and forwards it to the dialogue engine.
// Only the first utterance of an episode is accepted.
func (a *Adapter) Submit(ctx context.Context, audio io.Reader, mimeType string) (*Result, error) {
	a.mu.Lock()
	if a.state != StateListening || a.processing {
		a.mu.Unlock()
		return nil, ErrNotListening
	}
	a.processing = true
	episode := a.episode
	a.mu.Unlock()

	transcript, err := a.recognizer.Transcribe(ctx, audio, mimeType)
	transcript = strings.TrimSpace(transcript)
	if err == nil && transcript == "" {
		err = ErrNoSpeech
	}

	a.mu.Lock()
	if a.episode != episode {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: stopped before the utterance was recognized", ErrNotListening)
	}
	a.processing = false
	if err != nil {
		a.failLocked(err)
		a.mu.Unlock()
		return nil, err
	}
	a.state = StateIdle
	a.mu.Unlock()

	a.logger.Info("utterance recognized", "chars", len(transcript))
	reply, err := a.sender.Send(ctx, transcript)
	if err != nil {
		return &Result{Transcript: transcript}, err
	}
	return &Result{Transcript: transcript, Reply: reply}, nil
}

func (a *Adapter) failLocked(cause error) {
	a.state = StateError
	switch {
	case errors.Is(cause, ErrPermissionDenied):
		a.category, a.message = CategoryPermissionDenied, MessagePermissionDenied
	case errors.Is(cause, ErrNoSpeech):
		a.category, a.message = CategoryNoSpeech, MessageNoSpeech
	default:
		a.category, a.message = CategoryOther, MessageOther
	}
	a.logger.Warn("voice input failed", "category", a.category, "error", cause)
	a.scheduleResetLocked()
}

// scheduleResetLocked clears the transient message, and leaves the error
// state, after ErrorReset. A later transition supersedes it.
func (a *Adapter) scheduleResetLocked() {
	a.stopTimerLocked()
	episode := a.episode
	a.timer = a.opts.AfterFunc(a.opts.ErrorReset, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.episode != episode {
			return
		}
		if a.state == StateError {
			a.state = StateIdle
		}
		a.category = ""
		a.message = ""
	})
}

func (a *Adapter) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Close stops any pending reset timer.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimerLocked()
}
