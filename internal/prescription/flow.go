package prescription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vbonduro/prescriptly/internal/domain"
	"github.com/vbonduro/prescriptly/internal/photostore"
)

var (
	ErrNoFile            = errors.New("no prescription image selected")
	ErrInvalidTransition = errors.New("invalid prescription flow transition")
	ErrCandidateNotFound = errors.New("scanned candidate not found")
)

type FlowState string

const (
	StateNoFile       FlowState = "no-file"
	StateFileSelected FlowState = "file-selected"
	StateScanning     FlowState = "scanning"
	StateResults      FlowState = "results"
	StateError        FlowState = "error"
)

type scanner interface {
	Analyze(ctx context.Context, image []byte, mimeType string) ([]*domain.ScannedCandidate, error)
}

// cartAdder is the subset of store.CartStore the flow requires.
type cartAdder interface {
	Add(ctx context.Context, userID string, m domain.Medicine, quantity int) (*domain.CartLine, error)
}

// uploadRecorder is the subset of store.UploadStore the flow requires.
type uploadRecorder interface {
	Create(ctx context.Context, userID, storageKey, mimeType string) (*domain.PrescriptionUpload, error)
}

type selectedFile struct {
	data     []byte
	mimeType string
	upload   *domain.PrescriptionUpload
}

// Flow is one user's upload → scan → review session. All methods are safe for
// concurrent use; at most one scan runs at a time.
type Flow struct {
	analyzer scanner
	cart     cartAdder
	photos   photostore.PhotoStore
	uploads  uploadRecorder
	userID   string
	logger   *slog.Logger

	mu         sync.Mutex
	state      FlowState
	file       *selectedFile
	candidates []*domain.ScannedCandidate
	message    string
}

// NewFlow builds a flow in the no-file state. photos and uploads may be nil,
// in which case selected images are not retained.
func NewFlow(analyzer scanner, cart cartAdder, photos photostore.PhotoStore, uploads uploadRecorder, userID string, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		analyzer: analyzer,
		cart:     cart,
		photos:   photos,
		uploads:  uploads,
		userID:   userID,
		logger:   logger.With("component", "prescription", "user_id", userID),
		state:    StateNoFile,
	}
}

// View is a point-in-time copy of the flow, safe to render.
type View struct {
	State      FlowState
	Message    string
	Upload     *domain.PrescriptionUpload
	Candidates []domain.ScannedCandidate
}

func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

func (f *Flow) viewLocked() View {
	v := View{State: f.state, Message: f.message}
	if f.file != nil {
		v.Upload = f.file.upload
	}
	if len(f.candidates) > 0 {
		v.Candidates = make([]domain.ScannedCandidate, len(f.candidates))
		for i, c := range f.candidates {
			v.Candidates[i] = *c
		}
	}
	return v
}

// SelectFile replaces the current image, discarding any previous results.
// The image is retained in the photo store for pharmacist review.
func (f *Flow) SelectFile(ctx context.Context, data []byte, mimeType string) (View, error) {
	if len(data) == 0 {
		return f.View(), ErrNoFile
	}

	f.mu.Lock()
	if f.state == StateScanning {
		f.mu.Unlock()
		return f.View(), fmt.Errorf("%w: cannot replace the image while scanning", ErrInvalidTransition)
	}
	f.mu.Unlock()

	upload, err := f.retain(ctx, data, mimeType)
	if err != nil {
		return f.View(), err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateScanning {
		return f.viewLocked(), fmt.Errorf("%w: cannot replace the image while scanning", ErrInvalidTransition)
	}
	f.file = &selectedFile{data: data, mimeType: mimeType, upload: upload}
	f.candidates = nil
	f.message = ""
	f.state = StateFileSelected
	f.logger.Info("prescription image selected", "mime_type", mimeType, "bytes", len(data))
	return f.viewLocked(), nil
}

func (f *Flow) retain(ctx context.Context, data []byte, mimeType string) (*domain.PrescriptionUpload, error) {
	if f.photos == nil || f.uploads == nil {
		return nil, nil
	}
	storageKey, err := f.photos.Save(ctx, "rx_"+f.userID, mimeType, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to save prescription image: %w", err)
	}
	upload, err := f.uploads.Create(ctx, f.userID, storageKey, mimeType)
	if err != nil {
		if derr := f.photos.Delete(ctx, storageKey); derr != nil {
			f.logger.Error("failed to remove orphaned prescription image", "storage_key", storageKey, "error", derr)
		}
		return nil, fmt.Errorf("failed to record prescription upload: %w", err)
	}
	return upload, nil
}

// Scan analyzes the selected image. It is valid from file-selected, and from
// error as a retry while an image is still selected. On failure the flow
// enters the error state with a user-facing message and the cause is
// returned wrapped in ErrNoneIdentified or ErrScanFailed.
func (f *Flow) Scan(ctx context.Context) (View, error) {
	f.mu.Lock()
	switch {
	case f.state == StateScanning:
		f.mu.Unlock()
		return f.View(), fmt.Errorf("%w: a scan is already in progress", ErrInvalidTransition)
	case f.file == nil:
		f.mu.Unlock()
		return f.View(), ErrNoFile
	case f.state != StateFileSelected && f.state != StateError:
		state := f.state
		f.mu.Unlock()
		return f.View(), fmt.Errorf("%w: cannot scan from %s", ErrInvalidTransition, state)
	}
	file := f.file
	f.state = StateScanning
	f.message = ""
	f.mu.Unlock()

	candidates, err := f.analyzer.Analyze(ctx, file.data, file.mimeType)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = StateError
		f.candidates = nil
		if errors.Is(err, ErrNoneIdentified) {
			f.message = NoneIdentifiedMessage
			f.logger.Info("prescription scan found no medicines")
		} else {
			f.message = ScanFailedMessage
			f.logger.Error("prescription scan failed", "error", err)
		}
		return f.viewLocked(), err
	}

	f.state = StateResults
	f.candidates = candidates
	f.logger.Info("prescription scan complete", "candidates", len(candidates))
	return f.viewLocked(), nil
}

// Reset returns to no-file from any state except scanning. The retained
// image is kept.
func (f *Flow) Reset() (View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateScanning {
		return f.viewLocked(), fmt.Errorf("%w: cannot reset while scanning", ErrInvalidTransition)
	}
	f.state = StateNoFile
	f.file = nil
	f.candidates = nil
	f.message = ""
	return f.viewLocked(), nil
}

// AdjustQuantity changes a candidate's quantity by delta, never going below
// one. Committed candidates are left unchanged.
func (f *Flow) AdjustQuantity(id string, delta int) (domain.ScannedCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.findLocked(id)
	if c == nil {
		return domain.ScannedCandidate{}, ErrCandidateNotFound
	}
	if !c.Committed {
		c.Quantity = max(1, c.Quantity+delta)
	}
	return *c, nil
}

// AddToCart adds the candidate's item to the cart with its current quantity
// and marks it committed. Adding an already committed candidate is a no-op.
func (f *Flow) AddToCart(ctx context.Context, id string) (domain.ScannedCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.findLocked(id)
	if c == nil {
		return domain.ScannedCandidate{}, ErrCandidateNotFound
	}
	if c.Committed {
		return *c, nil
	}
	if c.Item == nil {
		return *c, fmt.Errorf("candidate %s has no resolved item", id)
	}
	if _, err := f.cart.Add(ctx, f.userID, c.Item.Medicine, c.Quantity); err != nil {
		return *c, fmt.Errorf("failed to add candidate to cart: %w", err)
	}
	c.Committed = true
	f.logger.Info("prescription candidate added to cart", "candidate_id", id, "medicine", c.Item.Medicine.Name, "quantity", c.Quantity)
	return *c, nil
}

func (f *Flow) findLocked(id string) *domain.ScannedCandidate {
	for _, c := range f.candidates {
		if c.ID == id {
			return c
		}
	}
	return nil
}
