package trueface

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trueface/trueface/vector"
)

// Verify compares an image against one user's enrolled embeddings
// (one-to-one). The similarity in the result is always the true best
// cosine score, whether or not it cleared the threshold.
func (e *Engine) Verify(ctx context.Context, userID string, image []byte, sensitivity Sensitivity) (*VerifyResult, error) {
	vec, err := e.extract(ctx, image)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditEventVerifyFailure, false, userID, "", nil, err, nil)
		return nil, err
	}
	return e.VerifyVector(ctx, userID, vec, sensitivity)
}

// VerifyVector is Verify for callers that already hold an embedding. The
// vector is normalized before comparison; it does not have to be unit
// length.
func (e *Engine) VerifyVector(ctx context.Context, userID string, vec []float32, sensitivity Sensitivity) (*VerifyResult, error) {
	if e == nil || e.index == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeLatency(MetricMatchLatency, start)

	q, err := e.normalizeQuery(vec)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditEventVerifyFailure, false, userID, "", nil, err, nil)
		return nil, err
	}

	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditEventVerifyFailure, false, userID, "", nil, err, nil)
		return nil, err
	}
	if user.Disabled {
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditEventVerifyFailure, false, userID, "", nil, ErrUserDisabled, nil)
		return nil, ErrUserDisabled
	}

	best, compared := e.index.SearchUser(userID, q)
	if compared == 0 {
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditEventVerifyFailure, false, userID, "", nil, ErrNoFacesEnrolled, nil)
		return nil, ErrNoFacesEnrolled
	}

	threshold := e.threshold(sensitivity)
	result := &VerifyResult{
		UserID:     userID,
		Matched:    best >= threshold,
		Similarity: best,
		Threshold:  threshold,
		Compared:   compared,
	}

	if result.Matched {
		e.metricInc(MetricVerifySuccess)
		e.emitAudit(ctx, auditEventVerifyAccepted, true, userID, "", confidenceOf(best), nil, nil)
	} else {
		e.metricInc(MetricVerifyReject)
		e.emitAudit(ctx, auditEventVerifyRejected, false, userID, "", confidenceOf(best), nil, func() map[string]string {
			return map[string]string{
				"threshold": fmt.Sprintf("%.4f", threshold),
			}
		})
	}
	return result, nil
}

// Recognize searches the whole gallery for the image (one-to-many) and
// returns ranked candidates, best first. Each user appears at most once;
// candidates below the threshold are dropped. An empty result is a
// normal outcome, not an error.
func (e *Engine) Recognize(ctx context.Context, image []byte, sensitivity Sensitivity) ([]MatchCandidate, error) {
	vec, err := e.extract(ctx, image)
	if err != nil {
		e.metricInc(MetricRecognizeMiss)
		e.emitAudit(ctx, auditEventRecognizeMiss, false, "", "", nil, err, nil)
		return nil, err
	}
	return e.RecognizeVector(ctx, vec, sensitivity)
}

// RecognizeVector is Recognize for callers that already hold an
// embedding.
func (e *Engine) RecognizeVector(ctx context.Context, vec []float32, sensitivity Sensitivity) ([]MatchCandidate, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.RecognizeVectorAt(ctx, vec, e.threshold(sensitivity))
}

// RecognizeVectorAt is RecognizeVector with an explicit similarity
// threshold instead of a named sensitivity level.
func (e *Engine) RecognizeVectorAt(ctx context.Context, vec []float32, threshold float64) ([]MatchCandidate, error) {
	if e == nil || e.index == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeLatency(MetricMatchLatency, start)

	q, err := e.normalizeQuery(vec)
	if err != nil {
		e.metricInc(MetricRecognizeMiss)
		e.emitAudit(ctx, auditEventRecognizeMiss, false, "", "", nil, err, nil)
		return nil, err
	}

	degradedBefore := e.index.DegradedQueries()

	// Over-fetch entries so per-user dedupe still yields TopK users.
	k := e.config.Matching.TopK
	raw := e.index.Search(q, k*4, e.searchBackend())

	if e.index.DegradedQueries() > degradedBefore {
		e.metricInc(MetricIndexDegraded)
	}

	candidates, err := e.collapseByUser(ctx, raw, k, threshold)
	if err != nil {
		e.metricInc(MetricRecognizeMiss)
		e.emitAudit(ctx, auditEventRecognizeMiss, false, "", "", nil, err, nil)
		return nil, err
	}

	if len(candidates) > 0 {
		e.metricInc(MetricRecognizeHit)
		e.emitAudit(ctx, auditEventRecognizeHit, true, candidates[0].UserID, "", confidenceOf(candidates[0].Similarity), nil, nil)
	} else {
		e.metricInc(MetricRecognizeMiss)
		e.emitAudit(ctx, auditEventRecognizeMiss, false, "", "", nil, nil, func() map[string]string {
			return map[string]string{
				"candidates": fmt.Sprintf("%d", len(candidates)),
			}
		})
	}
	return candidates, nil
}

// collapseByUser keeps each user's best-scoring entry at or above the
// threshold, preserving rank order, and resolves usernames for the
// surviving candidates. A store failure aborts the whole query: a
// candidate must not be served without its disabled check.
func (e *Engine) collapseByUser(ctx context.Context, raw []vector.Result, k int, threshold float64) ([]MatchCandidate, error) {
	seen := make(map[string]bool, len(raw))
	candidates := make([]MatchCandidate, 0, k)

	for _, r := range raw {
		if seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true

		if r.Similarity < threshold {
			// Results are ranked; everything after is below too.
			break
		}

		user, err := e.users.GetUser(ctx, r.UserID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				// Indexed embedding whose record is gone; skip it.
				continue
			}
			return nil, err
		}
		if user.Disabled {
			continue
		}

		candidates = append(candidates, MatchCandidate{
			UserID:     r.UserID,
			Username:   user.Username,
			Similarity: r.Similarity,
		})
		if len(candidates) == k {
			break
		}
	}
	return candidates, nil
}

func (e *Engine) extract(ctx context.Context, image []byte) ([]float32, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.extractor == nil {
		return nil, ErrEngineNotReady
	}
	return e.extractor.Extract(ctx, image)
}

func (e *Engine) normalizeQuery(vec []float32) ([]float32, error) {
	if len(vec) != e.config.Matching.Dim {
		return nil, fmt.Errorf("%w: got dimension %d, want %d", ErrInvalidVector, len(vec), e.config.Matching.Dim)
	}
	q, err := vector.Normalize(vec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVector, err)
	}
	return q, nil
}
