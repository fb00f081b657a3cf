package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/nkurunziza/docextract/internal/confidence"
	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/internal/provider"
	"github.com/nkurunziza/docextract/pkg/logger"
)

// Chain defaults.
const (
	DefaultConfidenceFloor = 0.30
	DefaultCallTimeout     = 30 * time.Second
)

// Outcome is the winning strategy's scored result.
type Outcome struct {
	Method            string
	Fields            models.Fields
	FieldConfidence   map[string]float64
	OverallConfidence float64
	DocumentType      models.DocumentType
}

// Chain walks a fixed priority order of strategies. Transient and permanent
// provider failures and under-confidence results move to the next strategy;
// an InputError aborts the whole chain.
type Chain struct {
	strategies      []Strategy
	confidenceFloor float64
	callTimeout     time.Duration
	logger          logger.Logger
}

// ChainOption tunes the chain.
type ChainOption func(*Chain)

func WithConfidenceFloor(floor float64) ChainOption {
	return func(c *Chain) { c.confidenceFloor = floor }
}

func WithCallTimeout(d time.Duration) ChainOption {
	return func(c *Chain) { c.callTimeout = d }
}

// NewChain builds a chain over the given strategies in priority order.
func NewChain(strategies []Strategy, log logger.Logger, opts ...ChainOption) *Chain {
	c := &Chain{
		strategies:      strategies,
		confidenceFloor: DefaultConfidenceFloor,
		callTimeout:     DefaultCallTimeout,
		logger:          log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the chain. On success it returns the winning outcome plus the
// diagnostics accumulated from earlier failed attempts. On total failure the
// error is an *ExhaustedError carrying the same diagnostics, or an
// *InputError when the document itself is unusable.
func (c *Chain) Run(ctx context.Context, in *Input) (*Outcome, []models.Diagnostic, error) {
	var diags []models.Diagnostic

	for _, strategy := range c.strategies {
		candidate, err := c.invoke(ctx, strategy, in)
		if err != nil {
			var ie *InputError
			if errors.As(err, &ie) {
				return nil, diags, err
			}
			class := classifyStrategyError(err)
			diags = append(diags, models.Diagnostic{
				Strategy: strategy.Name(),
				Class:    class,
				Message:  err.Error(),
				At:       time.Now().UTC(),
			})
			c.logger.Warn("extraction strategy failed",
				logger.String("strategy", strategy.Name()),
				logger.String("class", string(class)),
				logger.Error(err),
			)
			continue
		}

		required := models.RequiredFields(candidate.DocumentType)
		breakdown := confidence.Score(candidate.Fields, candidate.FieldConfidence, required)
		if breakdown.Overall < c.confidenceFloor {
			diags = append(diags, models.Diagnostic{
				Strategy:   strategy.Name(),
				Class:      models.DiagLowConfidence,
				Message:    "overall confidence below floor",
				Confidence: breakdown.Overall,
				At:         time.Now().UTC(),
			})
			c.logger.Warn("extraction result under confidence floor",
				logger.String("strategy", strategy.Name()),
				logger.Float64("confidence", breakdown.Overall),
				logger.Float64("floor", c.confidenceFloor),
			)
			continue
		}

		c.logger.Info("extraction strategy won",
			logger.String("strategy", strategy.Name()),
			logger.Float64("confidence", breakdown.Overall),
			logger.Int("attempts", len(diags)+1),
		)
		return &Outcome{
			Method:            strategy.Name(),
			Fields:            candidate.Fields,
			FieldConfidence:   candidate.FieldConfidence,
			OverallConfidence: breakdown.Overall,
			DocumentType:      candidate.DocumentType,
		}, diags, nil
	}

	return nil, diags, &ExhaustedError{Diagnostics: diags}
}

func (c *Chain) invoke(ctx context.Context, strategy Strategy, in *Input) (*Candidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return strategy.Extract(callCtx, in)
}

// classifyStrategyError folds a strategy failure onto a diagnostic class:
// timeouts and transient provider errors retryable, everything else
// (permanent provider errors, schema-violating replies) permanent.
func classifyStrategyError(err error) models.DiagnosticClass {
	if provider.IsTransient(err) {
		return models.DiagTransient
	}
	return models.DiagPermanent
}
