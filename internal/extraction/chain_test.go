package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/nkurunziza/docextract/internal/models"
	"github.com/nkurunziza/docextract/internal/provider"
	"github.com/nkurunziza/docextract/pkg/logger"
)

type stubStrategy struct {
	name      string
	candidate *Candidate
	err       error
	calls     int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Extract(ctx context.Context, in *Input) (*Candidate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.candidate, nil
}

func goodCandidate() *Candidate {
	return &Candidate{
		Fields: models.Fields{
			models.FieldDocumentType:    "invoice",
			models.FieldPartiesIssuer:   "ACME Ltd",
			models.FieldAmountsTotal:    120.5,
			models.FieldAmountsCurrency: "USD",
			models.FieldDatesIssue:      "2025-03-14",
		},
		FieldConfidence: map[string]float64{
			models.FieldDocumentType:    0.95,
			models.FieldPartiesIssuer:   0.95,
			models.FieldAmountsTotal:    0.95,
			models.FieldAmountsCurrency: 0.95,
			models.FieldDatesIssue:      0.95,
		},
		DocumentType: models.DocTypeInvoice,
	}
}

func TestChainFirstStrategyWins(t *testing.T) {
	first := &stubStrategy{name: models.MethodVision, candidate: goodCandidate()}
	second := &stubStrategy{name: models.MethodLocalModel, candidate: goodCandidate()}
	chain := NewChain([]Strategy{first, second}, logger.NewTestLogger())

	outcome, diags, err := chain.Run(context.Background(), &Input{Text: "doc"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Method != models.MethodVision {
		t.Errorf("method = %q, want vision", outcome.Method)
	}
	if len(diags) != 0 {
		t.Errorf("diagnostics = %d, want 0", len(diags))
	}
	if second.calls != 0 {
		t.Errorf("second strategy should not run after a win")
	}
	if outcome.OverallConfidence < 0.9 {
		t.Errorf("overall = %f, want >= 0.9", outcome.OverallConfidence)
	}
}

func TestChainFallsThroughTransientFailure(t *testing.T) {
	first := &stubStrategy{name: models.MethodVision, err: &provider.TransientError{Message: "timeout"}}
	second := &stubStrategy{name: models.MethodLocalModel, candidate: goodCandidate()}
	chain := NewChain([]Strategy{first, second}, logger.NewTestLogger())

	outcome, diags, err := chain.Run(context.Background(), &Input{Text: "doc"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Method != models.MethodLocalModel {
		t.Errorf("method = %q, want local_model", outcome.Method)
	}
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want exactly 1", len(diags))
	}
	if diags[0].Strategy != models.MethodVision || diags[0].Class != models.DiagTransient {
		t.Errorf("unexpected diagnostic %+v", diags[0])
	}
}

func TestChainFallsThroughPermanentProviderError(t *testing.T) {
	first := &stubStrategy{name: models.MethodVision, err: &provider.PermanentError{Status: 401, Message: "bad key"}}
	second := &stubStrategy{name: models.MethodLocalModel, candidate: goodCandidate()}
	chain := NewChain([]Strategy{first, second}, logger.NewTestLogger())

	outcome, diags, err := chain.Run(context.Background(), &Input{Text: "doc"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Method != models.MethodLocalModel {
		t.Errorf("method = %q, want local_model", outcome.Method)
	}
	if len(diags) != 1 || diags[0].Class != models.DiagPermanent {
		t.Fatalf("expected one permanent diagnostic, got %+v", diags)
	}
}

func TestChainInputErrorAborts(t *testing.T) {
	first := &stubStrategy{name: models.MethodVision, err: &InputError{Message: "unsupported mimetype"}}
	second := &stubStrategy{name: models.MethodLocalModel, candidate: goodCandidate()}
	chain := NewChain([]Strategy{first, second}, logger.NewTestLogger())

	_, _, err := chain.Run(context.Background(), &Input{Text: "doc"})
	var ie *InputError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InputError, got %v", err)
	}
	if second.calls != 0 {
		t.Errorf("chain must abort without trying further strategies")
	}
}

func TestChainLowConfidenceContinues(t *testing.T) {
	weak := goodCandidate()
	for k := range weak.FieldConfidence {
		weak.FieldConfidence[k] = 0.2
	}
	first := &stubStrategy{name: models.MethodVision, candidate: weak}
	second := &stubStrategy{name: models.MethodLocalModel, candidate: goodCandidate()}
	chain := NewChain([]Strategy{first, second}, logger.NewTestLogger())

	outcome, diags, err := chain.Run(context.Background(), &Input{Text: "doc"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Method != models.MethodLocalModel {
		t.Errorf("method = %q, want local_model", outcome.Method)
	}
	if len(diags) != 1 || diags[0].Class != models.DiagLowConfidence {
		t.Fatalf("expected one low_confidence diagnostic, got %+v", diags)
	}
	if diags[0].Confidence <= 0 || diags[0].Confidence >= DefaultConfidenceFloor {
		t.Errorf("diagnostic confidence %f should be in (0, floor)", diags[0].Confidence)
	}
}

func TestChainExhaustedCarriesAllDiagnostics(t *testing.T) {
	strategies := []Strategy{
		&stubStrategy{name: models.MethodVision, err: &provider.TransientError{Message: "timeout"}},
		&stubStrategy{name: models.MethodLocalModel, err: &provider.PermanentError{Status: 400, Message: "rejected"}},
		&stubStrategy{name: models.MethodHeuristic, err: &BadReplyError{Strategy: models.MethodHeuristic, Message: "no match"}},
	}
	chain := NewChain(strategies, logger.NewTestLogger())

	_, diags, err := chain.Run(context.Background(), &Input{Text: "doc"})
	var ee *ExhaustedError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if len(ee.Diagnostics) != 3 || len(diags) != 3 {
		t.Fatalf("expected 3 diagnostics, got %d", len(ee.Diagnostics))
	}
	if !ee.HasTransient() {
		t.Errorf("exhaustion with a transient attempt must be retryable")
	}
	order := []string{models.MethodVision, models.MethodLocalModel, models.MethodHeuristic}
	for i, want := range order {
		if ee.Diagnostics[i].Strategy != want {
			t.Errorf("diagnostic %d strategy = %q, want %q", i, ee.Diagnostics[i].Strategy, want)
		}
	}
}

func TestChainAllPermanentExhaustionNotRetryable(t *testing.T) {
	strategies := []Strategy{
		&stubStrategy{name: models.MethodVision, err: &provider.PermanentError{Status: 401}},
		&stubStrategy{name: models.MethodLocalModel, err: &provider.PermanentError{Status: 400}},
	}
	chain := NewChain(strategies, logger.NewTestLogger())

	_, _, err := chain.Run(context.Background(), &Input{Text: "doc"})
	var ee *ExhaustedError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if ee.HasTransient() {
		t.Errorf("all-permanent exhaustion must not be retryable")
	}
}
