// Package executor resolves a match request against the engine and, when
// asked, confirms the winner with a containment check against its archived
// text.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/archive"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/containment"
	"github.com/Adithya-Monish-Kumar-K/articlematch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/articlematch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/tracing"
)

// Verification statuses.
const (
	VerifyChecked     = "checked"
	VerifyNoMatch     = "no_match"
	VerifyUnavailable = "unavailable"
	VerifyNotFound    = "not_found"
	VerifyTimeout     = "timeout"
)

// Engine is the read side of the index plus the containment check.
type Engine interface {
	Candidates(query string, limit int) []index.Candidate
	Validate(a, b string) containment.Result
}

// TextSource returns archived article text by key hash.
type TextSource interface {
	Get(ctx context.Context, keyHash string) (archive.Article, error)
}

type Request struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
	Verify bool   `json:"verify"`
}

// Verification reports the containment check of the query against the
// winner's archived text. Result is set only when Status is "checked".
type Verification struct {
	Status  string              `json:"status"`
	Result  *containment.Result `json:"result,omitempty"`
	Summary string              `json:"summary,omitempty"`
}

type Result struct {
	Query        string            `json:"query"`
	Best         index.Match       `json:"best"`
	Candidates   []index.Candidate `json:"candidates"`
	Verification *Verification     `json:"verification,omitempty"`
}

type Executor struct {
	engine        Engine
	texts         TextSource
	defaultLimit  int
	verifyTimeout time.Duration
	logger        *slog.Logger
}

// New creates an Executor. texts may be nil, in which case verification
// always reports "unavailable".
func New(engine Engine, texts TextSource, defaultLimit int, verifyTimeout time.Duration) *Executor {
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &Executor{
		engine:        engine,
		texts:         texts,
		defaultLimit:  defaultLimit,
		verifyTimeout: verifyTimeout,
		logger:        slog.Default().With("component", "match-executor"),
	}
}

// Limit resolves a requested candidate count to the one Execute will use.
func (e *Executor) Limit(requested int) int {
	if requested <= 0 || requested > e.defaultLimit*10 {
		return e.defaultLimit
	}
	return requested
}

// Execute ranks candidates for req.Query. The best candidate is the same
// article the index's Match would return. Verification failures are
// reported in the result, never as an error.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	}
	limit := e.Limit(req.Limit)

	_, lookup := tracing.StartChildSpan(ctx, "index.candidates")
	candidates := e.engine.Candidates(req.Query, limit)
	lookup.SetAttr("candidates", len(candidates))
	lookup.End()

	res := &Result{Query: req.Query, Candidates: candidates}
	if len(candidates) > 0 {
		top := candidates[0]
		res.Best = index.Match{Key: top.Key, KeyHash: top.KeyHash, Score: top.Score, Found: true}
	}

	if req.Verify {
		res.Verification = e.verify(ctx, req.Query, res.Best)
	}

	e.logger.Debug("match executed",
		"found", res.Best.Found,
		"key_hash", res.Best.KeyHash,
		"score", res.Best.Score,
		"candidates", len(candidates),
	)
	return res, nil
}

func (e *Executor) verify(ctx context.Context, query string, best index.Match) *Verification {
	if !best.Found {
		return &Verification{Status: VerifyNoMatch}
	}
	if e.texts == nil {
		return &Verification{Status: VerifyUnavailable}
	}

	ctx, span := tracing.StartChildSpan(ctx, "archive.get")
	defer span.End()

	article, err := resilience.Within(ctx, e.verifyTimeout, "archive-get", func(ctx context.Context) (archive.Article, error) {
		return e.texts.Get(ctx, best.KeyHash)
	})
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrArticleNotFound):
		return &Verification{Status: VerifyNotFound}
	case errors.Is(err, apperrors.ErrTimeout):
		e.logger.Warn("verification timed out", "key_hash", best.KeyHash, "timeout", e.verifyTimeout)
		return &Verification{Status: VerifyTimeout}
	default:
		e.logger.Error("verification lookup failed", "key_hash", best.KeyHash, "error", err)
		return &Verification{Status: VerifyUnavailable}
	}

	r := e.engine.Validate(query, article.Body)
	span.SetAttr("verdict", r.Verdict)
	return &Verification{Status: VerifyChecked, Result: &r, Summary: r.String()}
}
