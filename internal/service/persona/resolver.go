package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	personamodel "github.com/zhouzirui/grimoire/backend/internal/model/persona"
)

// ErrClassificationFailed wraps a fatal error from the classification call.
var ErrClassificationFailed = errors.New("persona classification failed")

// Classifier returns the raw model answer for a book.
type Classifier interface {
	Classify(ctx context.Context, title, author string) (string, error)
}

// Options tune the resolver.
type Options struct {
	// CacheDefaults memoizes defaulted results; when false they are retried on the next access.
	CacheDefaults bool
	// Timeout bounds one classification call. Zero disables the bound.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Resolver classifies books into personas and memoizes the result per normalized key.
type Resolver struct {
	classifier    Classifier
	cache         personamodel.Cache
	cacheDefaults bool
	timeout       time.Duration
	group         singleflight.Group
	logger        *zap.Logger
}

// NewResolver wires a classifier and a cache.
func NewResolver(classifier Classifier, cache personamodel.Cache, opts Options) *Resolver {
	if cache == nil {
		cache = personamodel.NewMemoryCache(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		classifier:    classifier,
		cache:         cache,
		cacheDefaults: opts.CacheDefaults,
		timeout:       opts.Timeout,
		logger:        logger.Named("persona"),
	}
}

// Resolve returns the persona for a book. A cache hit makes no external call.
// Concurrent misses for the same key share a single classification, which
// runs detached from any one caller so a departing caller never fails the others.
func (r *Resolver) Resolve(ctx context.Context, title, author string) (Result, error) {
	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)
	key := personamodel.Key(title, author)

	entry, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("persona cache read failed", zap.String("title", title), zap.Error(err))
	} else if ok {
		return resultFromEntry(entry), nil
	}

	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.classify(detached, key, title, author)
	})

	select {
	case <-ctx.Done():
		err := fmt.Errorf("%w: %w", ErrClassificationFailed, ctx.Err())
		return Result{Persona: personamodel.Default(title), Status: StatusFailed, Err: err}, err
	case res := <-ch:
		if res.Err != nil {
			return Result{Persona: personamodel.Default(title), Status: StatusFailed, Err: res.Err}, res.Err
		}
		if res.Shared {
			r.logger.Debug("joined in-flight classification", zap.String("title", title))
		}
		return res.Val.(Result), nil
	}
}

func resultFromEntry(e personamodel.Entry) Result {
	result := Result{Persona: e.Persona, Status: StatusParsed, Cached: true}
	if e.Defaulted {
		result.Status = StatusDefaulted
		result.Reason = e.Reason
	}
	return result
}

func (r *Resolver) classify(ctx context.Context, key, title, author string) (Result, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	raw, err := r.classifier.Classify(callCtx, title, author)
	if err != nil {
		r.logger.Warn("classification call failed", zap.String("title", title), zap.Error(err))
		return Result{}, fmt.Errorf("%w: %w", ErrClassificationFailed, err)
	}

	result := ParseClassification(raw, title)
	if result.Status == StatusDefaulted {
		r.logger.Info("classification defaulted",
			zap.String("title", title),
			zap.String("reason", result.Reason),
			zap.Bool("cached", r.cacheDefaults),
		)
		if !r.cacheDefaults {
			return result, nil
		}
	}

	entry := personamodel.Entry{
		Persona:   result.Persona,
		Defaulted: result.Status == StatusDefaulted,
		Reason:    result.Reason,
	}
	if err := r.cache.Set(ctx, key, entry); err != nil {
		r.logger.Warn("persona cache write failed", zap.String("title", title), zap.Error(err))
	}

	r.logger.Debug("resolved persona",
		zap.String("title", title),
		zap.String("role", string(result.Persona.Role)),
		zap.String("name", result.Persona.Name),
		zap.Stringer("status", result.Status),
	)
	return result, nil
}

// Close releases the underlying cache.
func (r *Resolver) Close() error {
	return r.cache.Close()
}
