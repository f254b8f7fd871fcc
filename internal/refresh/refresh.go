package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-tracker/internal/extractor"
	"github.com/maltedev/price-tracker/internal/marketplace"
	"github.com/maltedev/price-tracker/internal/metrics"
	"github.com/maltedev/price-tracker/internal/models"
)

type Extractor interface {
	Extract(ctx context.Context, m *marketplace.Marketplace, input string) (models.RefreshResult, error)
}

// Protocol runs one extraction for a stored item or for raw user input,
// picking the marketplace and timing the attempt.
type Protocol struct {
	extractor Extractor
	registry  *marketplace.Registry
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(ex Extractor, registry *marketplace.Registry, m *metrics.Metrics, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		extractor: ex,
		registry:  registry,
		metrics:   m,
		logger:    logger.With("component", "refresh"),
	}
}

// Refresh re-reads the listing of a stored item. The result always carries
// the item's own marketplace and article id.
func (p *Protocol) Refresh(ctx context.Context, item models.TrackedItem) (models.RefreshResult, error) {
	m, err := p.registry.Lookup(item.Marketplace)
	if err != nil {
		return models.RefreshResult{}, fmt.Errorf("item %d: %w", item.ID, err)
	}

	res, err := p.run(ctx, m, item.ArticleID)
	if err != nil {
		return models.RefreshResult{}, err
	}

	res.Marketplace = m.Name
	res.ArticleID = item.ArticleID
	return res, nil
}

// RefreshInput extracts a listing from a URL or bare article number typed
// by a user.
func (p *Protocol) RefreshInput(ctx context.Context, raw string) (models.RefreshResult, error) {
	m, err := p.registry.Resolve(raw)
	if err != nil {
		return models.RefreshResult{}, err
	}
	return p.run(ctx, m, raw)
}

func (p *Protocol) run(ctx context.Context, m *marketplace.Marketplace, input string) (models.RefreshResult, error) {
	start := time.Now()
	res, err := p.extractor.Extract(ctx, m, input)
	elapsed := time.Since(start)

	outcome := extractor.Outcome(err)
	p.metrics.ObserveExtraction(m.Name, outcome, elapsed)

	if err != nil {
		p.logger.Warn("extraction failed",
			"marketplace", m.Name,
			"input", input,
			"outcome", outcome,
			"duration_ms", elapsed.Milliseconds(),
			"error", err)
		return models.RefreshResult{}, err
	}

	p.logger.Info("extraction finished",
		"marketplace", m.Name,
		"article", res.ArticleID,
		"price", res.CurrentPrice,
		"duration_ms", elapsed.Milliseconds())
	return res, nil
}
