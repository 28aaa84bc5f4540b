// Package prescription turns a photographed prescription into reviewable cart
// candidates and hosts the upload/scan/review flow around them.
package prescription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vbonduro/prescriptly/internal/domain"
	"github.com/vbonduro/prescriptly/internal/llm"
)

var (
	// ErrNoneIdentified means the extraction succeeded but found no medicine
	// names. The user should rescan with a clearer image.
	ErrNoneIdentified = errors.New("no medicines identified")
	// ErrScanFailed wraps every transport, parse or schema failure.
	ErrScanFailed = errors.New("prescription scan failed")
)

// User-facing messages for the two scan error outcomes.
const (
	NoneIdentifiedMessage = "We couldn't identify any clear medicine names. Please try a clearer image."
	ScanFailedMessage     = "Failed to analyze the prescription. Please ensure the image is clear and try again."
)

// Defaults for items synthesized from names that are not in the catalog.
const (
	SynthesizedDosage   = "As prescribed"
	SynthesizedPrice    = int64(149)
	SynthesizedCategory = "Prescription Medicine"
	SynthesizedImage    = "https://images.unsplash.com/photo-1584308666744-24d5c474f2ae?auto=format&fit=crop&q=80&w=600"

	// UnlimitedStock is the stock reported for prescription-sourced items.
	UnlimitedStock = 999
)

// catalogReader is the subset of store.CatalogStore the analyzer requires.
type catalogReader interface {
	List(ctx context.Context) ([]*domain.Medicine, error)
	FindByName(ctx context.Context, name string) (*domain.Medicine, error)
}

type Analyzer struct {
	catalog   catalogReader
	extractor llm.Extractor
	logger    *slog.Logger
}

func NewAnalyzer(catalog catalogReader, extractor llm.Extractor, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{catalog: catalog, extractor: extractor, logger: logger}
}

// Analyze extracts medicine names from image and resolves each into a
// candidate. Matched names come first, in extraction order, followed by the
// unmatched ones.
func (a *Analyzer) Analyze(ctx context.Context, image []byte, mimeType string) ([]*domain.ScannedCandidate, error) {
	meds, err := a.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list catalog: %w", ErrScanFailed, err)
	}
	names := make([]string, len(meds))
	for i, m := range meds {
		names[i] = m.Name
	}

	a.logger.Info("prescription extraction started", "mime_type", mimeType, "bytes", len(image))
	ex, err := a.extractor.Extract(ctx, llm.ExtractionRequest{
		Prompt:   llm.ExtractionPrompt(names),
		Image:    image,
		MimeType: mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	a.logger.Info("prescription extraction complete", "matches", len(ex.Matches), "others", len(ex.Others))

	if len(ex.Matches) == 0 && len(ex.Others) == 0 {
		return nil, ErrNoneIdentified
	}

	candidates := make([]*domain.ScannedCandidate, 0, len(ex.Matches)+len(ex.Others))
	for _, name := range ex.Matches {
		m, err := a.catalog.FindByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to look up %q: %w", ErrScanFailed, name, err)
		}
		item := Synthesize(name)
		if m != nil {
			item = FromCatalog(*m)
		} else {
			a.logger.Warn("extracted match not in catalog, synthesizing", "name", name)
		}
		candidates = append(candidates, newCandidate("match", item))
	}
	for _, name := range ex.Others {
		candidates = append(candidates, newCandidate("other", Synthesize(name)))
	}
	return candidates, nil
}

// FromCatalog copies a catalog entry and forces it available. Pharmacist
// verification of prescription items happens out of band.
func FromCatalog(m domain.Medicine) *domain.ResolvedItem {
	m.InStock = true
	if m.Stock <= 0 {
		m.Stock = UnlimitedStock
	}
	return &domain.ResolvedItem{Medicine: m, Source: domain.SourceCatalog}
}

// Synthesize builds a placeholder special-order item for a name the catalog
// does not carry.
func Synthesize(name string) *domain.ResolvedItem {
	return &domain.ResolvedItem{
		Medicine: domain.Medicine{
			ID:                   "dynamic-" + uuid.NewString(),
			Name:                 name,
			Dosage:               SynthesizedDosage,
			Price:                SynthesizedPrice,
			Category:             SynthesizedCategory,
			Image:                SynthesizedImage,
			Form:                 domain.FormTablet,
			RequiresPrescription: true,
			InStock:              true,
			Stock:                UnlimitedStock,
		},
		Source: domain.SourceSynthesized,
	}
}

func newCandidate(kind string, item *domain.ResolvedItem) *domain.ScannedCandidate {
	return &domain.ScannedCandidate{
		ID:       kind + "-" + uuid.NewString(),
		Name:     item.Medicine.Name,
		Item:     item,
		Quantity: 1,
	}
}
