// Package extraction reads identity fields from a document image by trying
// progressively cheaper OCR strategies until one yields a name and id number.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"idverify/internal/decision/ports"
	"idverify/internal/verification/models"
)

// ErrNoUsableExtraction is returned when no tier produced a name and id number.
var ErrNoUsableExtraction = errors.New("no usable document extraction")

// Tier is one named extraction strategy.
type Tier struct {
	Name      ports.ExtractionTier
	Extractor ports.DocumentExtractor
}

// Tiered implements ports.DocumentExtractor over an ordered list of tiers
// followed by a regex pass over any raw OCR text the tiers returned.
type Tiered struct {
	tiers  []Tier
	logger *slog.Logger
	now    func() time.Time
}

// Option configures Tiered.
type Option func(*Tiered)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tiered) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock sets the clock used to resolve MRZ date centuries.
func WithClock(now func() time.Time) Option {
	return func(t *Tiered) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates a tiered extractor. Nil extractors are skipped.
func New(tiers []Tier, opts ...Option) *Tiered {
	t := &Tiered{logger: slog.Default(), now: time.Now}
	for _, tier := range tiers {
		if tier.Extractor != nil {
			t.tiers = append(t.tiers, tier)
		}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Extract runs each tier in order and returns the first usable result. Later
// tiers only run when earlier ones failed or lacked a name and id number.
// Fields accumulate across tiers: a later tier that supplies what earlier
// tiers lacked completes the document and is reported as its tier. The
// regex pass runs only when the tiers together are still not usable.
func (t *Tiered) Extract(ctx context.Context, imageRef string, docType models.DocumentType) (*ports.ExtractedDocument, error) {
	var (
		partial  *ports.ExtractedDocument
		rawTexts []string
		errs     []error
	)

	for _, tier := range t.tiers {
		doc, err := tier.Extractor.Extract(ctx, imageRef, docType)
		if err != nil {
			t.logger.WarnContext(ctx, "extraction tier failed",
				"tier", tier.Name,
				"category", ports.CategoryOf(err),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))
			continue
		}
		doc.Tier = tier.Name
		if doc.Usable() {
			return doc, nil
		}
		if doc.RawText != "" {
			rawTexts = append(rawTexts, doc.RawText)
		}
		partial = merge(partial, doc)
		if partial.Usable() {
			partial.Tier = tier.Name
			return partial, nil
		}
	}

	if len(rawTexts) > 0 || (partial != nil && len(partial.MRZ) > 0) {
		parsed := ParseText(strings.Join(rawTexts, "\n"), t.now())
		if partial != nil && len(parsed.MRZ) == 0 && len(partial.MRZ) > 0 {
			fromMRZ(parsed, partial.MRZ, t.now())
		}
		doc := merge(partial, parsed)
		if doc.Usable() {
			doc.Tier = ports.TierRegex
			return doc, nil
		}
	}

	errs = append([]error{ErrNoUsableExtraction}, errs...)
	return nil, errors.Join(errs...)
}

// merge fills the empty fields of base from extra. base wins on conflicts.
func merge(base, extra *ports.ExtractedDocument) *ports.ExtractedDocument {
	if base == nil {
		if extra == nil {
			return nil
		}
		clone := *extra
		return &clone
	}
	if extra == nil {
		return base
	}
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&base.FullName, extra.FullName)
	fill(&base.DateOfBirth, extra.DateOfBirth)
	fill(&base.IDNumber, extra.IDNumber)
	fill(&base.Address, extra.Address)
	fill(&base.ExpiryDate, extra.ExpiryDate)
	fill(&base.IssueDate, extra.IssueDate)
	fill(&base.RawText, extra.RawText)
	if len(base.MRZ) == 0 {
		base.MRZ = extra.MRZ
	}
	for k, v := range extra.Fields {
		if base.Fields == nil {
			base.Fields = make(map[string]string)
		}
		if _, ok := base.Fields[k]; !ok {
			base.Fields[k] = v
		}
	}
	return base
}
