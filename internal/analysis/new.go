package analysis

import (
	"context"

	"github.com/raphaelgruber/floorplan-import/internal/config"
	"github.com/raphaelgruber/floorplan-import/internal/metrics"
)

// Options are shared by every analyzer adapter.
type Options struct {
	// FacilityCodes are offered to the model as the allowed facility values.
	FacilityCodes []string
	Metrics       *metrics.Collector
}

// New builds the configured analyzer, wrapped in rate limiting and the
// per-document timeout.
func New(ctx context.Context, cfg config.Config, text TextExtractor, opts Options) (Analyzer, error) {
	var inner Analyzer
	if cfg.Analyzer == config.ProviderBedrock {
		b, err := NewBedrock(ctx, cfg.AWSRegion, cfg.AnalyzerModel, opts)
		if err != nil {
			return nil, err
		}
		inner = b
	} else {
		m, err := NewLLM(cfg, text, opts)
		if err != nil {
			return nil, err
		}
		inner = m
	}
	return NewLimited(inner, cfg.AnalyzerRPS, cfg.AnalyzerTimeout), nil
}
