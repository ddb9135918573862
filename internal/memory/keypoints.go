package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/observability"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/store"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/transform"
)

// Span units for key-point refresh cadence.
const (
	SpanUnitTurns   = "turns"
	SpanUnitSession = "session"
)

// ExtractorConfig tunes key-point extraction.
type ExtractorConfig struct {
	Span     int
	Count    int
	SpanUnit string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// Extractor maintains the per-user key-point set. Extraction runs off the
// request path; concurrent triggers for the same user collapse into a single
// flight, and a failed extraction leaves the previous set untouched.
type Extractor struct {
	transformer transform.Transformer
	cache       store.Cache
	durable     store.Durable
	ledger      *Ledger
	cfg         ExtractorConfig
	metrics     *observability.Metrics
	group       singleflight.Group
}

func NewExtractor(transformer transform.Transformer, cache store.Cache, durable store.Durable, ledger *Ledger, cfg ExtractorConfig, metrics *observability.Metrics) *Extractor {
	if cfg.Span <= 0 {
		cfg.Span = 8
	}
	if cfg.Count <= 0 {
		cfg.Count = 5
	}
	if cfg.SpanUnit == "" {
		cfg.SpanUnit = SpanUnitTurns
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Extractor{
		transformer: transformer,
		cache:       cache,
		durable:     durable,
		ledger:      ledger,
		cfg:         cfg,
		metrics:     metrics,
	}
}

func (e *Extractor) scopeKey(userID string) string {
	return userID
}

// Current returns the user's key-point set, preferring the cache tier and
// falling back to the durable tier. An absent set is an empty set, not an
// error.
func (e *Extractor) Current(ctx context.Context, userID string) (KeyPointSet, error) {
	return e.currentScoped(ctx, e.scopeKey(userID))
}

func (e *Extractor) currentScoped(ctx context.Context, scope string) (KeyPointSet, error) {
	data, err := e.cache.Get(ctx, store.KeyPointsKey(scope))
	if err == nil {
		var set KeyPointSet
		if uerr := json.Unmarshal(data, &set); uerr == nil {
			return set, nil
		}
		log.Printf("keypoints: discarding corrupt cache entry for scope %s", scope)
	} else if !errors.Is(err, store.ErrCacheMiss) {
		if e.metrics != nil {
			e.metrics.CacheDegradations.WithLabelValues("keypoints_get").Inc()
		}
	}

	snap, err := e.durable.GetKeyPoints(ctx, scope)
	if errors.Is(err, store.ErrNotFound) {
		return KeyPointSet{ScopeKey: scope}, nil
	}
	if err != nil {
		return KeyPointSet{}, fmt.Errorf("load key points: %w", err)
	}
	set := KeyPointSet{ScopeKey: snap.ScopeKey, Through: snap.Through, UpdatedAt: snap.UpdatedAt}
	if err := json.Unmarshal(snap.Document, &set.Points); err != nil {
		return KeyPointSet{}, fmt.Errorf("decode key points: %w", err)
	}
	return set, nil
}

// MaybeExtract refreshes the user's key points if the conversation has
// advanced past the set's high-water mark. It reports whether an extraction
// actually ran; callers that lose the singleflight race get false with no
// error. In session span mode per-turn triggers are skipped entirely and the
// lifecycle manager extracts at flush.
func (e *Extractor) MaybeExtract(ctx context.Context, userID, conversationID string, lastSequence int64) (bool, error) {
	if e.cfg.SpanUnit == SpanUnitSession {
		return false, nil
	}
	return e.extract(ctx, userID, conversationID, lastSequence)
}

// ForceExtract refreshes the user's key points regardless of span mode,
// using the conversation's current head. Flush uses it so session-scoped
// extraction still happens exactly once per session.
func (e *Extractor) ForceExtract(ctx context.Context, userID, conversationID string) (bool, error) {
	head, err := e.ledger.Head(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if head == 0 {
		return false, nil
	}
	return e.extract(ctx, userID, conversationID, head)
}

func (e *Extractor) extract(ctx context.Context, userID, conversationID string, lastSequence int64) (bool, error) {
	scope := e.scopeKey(userID)
	ran := false

	_, err, shared := e.group.Do(scope, func() (any, error) {
		flightStart := time.Now()
		current, cerr := e.currentScoped(ctx, scope)
		if cerr != nil {
			return nil, cerr
		}
		if current.Through >= lastSequence {
			return nil, nil
		}

		turns, terr := e.ledger.Latest(ctx, conversationID, e.cfg.Span)
		if terr != nil {
			return nil, terr
		}
		if len(turns) == 0 {
			return nil, nil
		}
		texts := make([]transform.TurnText, len(turns))
		for i, turn := range turns {
			texts[i] = transform.TurnText{Role: turn.Role, Text: turn.Content}
		}

		tctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
		points, perr := e.transformer.ExtractPoints(tctx, texts, current.Points, e.cfg.Count)
		if perr != nil {
			if e.metrics != nil {
				e.metrics.Extractions.WithLabelValues("failed").Inc()
			}
			return nil, fmt.Errorf("extract key points: %w", perr)
		}

		set := KeyPointSet{
			ScopeKey:  scope,
			Points:    points,
			Through:   turns[len(turns)-1].Sequence,
			UpdatedAt: time.Now().UTC(),
		}
		if serr := e.persist(ctx, set); serr != nil {
			if e.metrics != nil {
				e.metrics.Extractions.WithLabelValues("failed").Inc()
			}
			return nil, serr
		}
		if e.metrics != nil {
			e.metrics.Extractions.WithLabelValues("completed").Inc()
		}
		e.metrics.ObserveStage("extract", time.Since(flightStart))
		ran = true
		return nil, nil
	})

	if err != nil {
		return false, err
	}
	if !ran && shared {
		if e.metrics != nil {
			e.metrics.Extractions.WithLabelValues("coalesced").Inc()
		}
	}
	return ran, nil
}

// persist writes the durable tier first. Only after the set survives a
// restart does the cache tier get the replacement; a cache failure leaves a
// stale entry that the next successful extraction overwrites.
func (e *Extractor) persist(ctx context.Context, set KeyPointSet) error {
	doc, err := json.Marshal(set.Points)
	if err != nil {
		return fmt.Errorf("encode key points: %w", err)
	}
	snap := store.KeyPointSnapshot{
		ScopeKey:  set.ScopeKey,
		Document:  doc,
		Through:   set.Through,
		UpdatedAt: set.UpdatedAt,
	}
	if err := e.durable.UpsertKeyPoints(ctx, snap); err != nil {
		return fmt.Errorf("persist key points: %w", err)
	}

	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode key point cache entry: %w", err)
	}
	if err := e.cache.Set(ctx, store.KeyPointsKey(set.ScopeKey), data, e.cfg.CacheTTL); err != nil {
		if e.metrics != nil {
			e.metrics.CacheDegradations.WithLabelValues("keypoints_set").Inc()
		}
		log.Printf("keypoints: cache write degraded for scope %s: %v", set.ScopeKey, err)
	}
	return nil
}
