package essay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/essaygen/internal/store"
)

// RecordFetcher looks up one source record.
type RecordFetcher interface {
	FetchByID(ctx context.Context, collection, id string) (store.Record, error)
}

// Sources names the two records distilled at startup.
type Sources struct {
	UsersCollection        string
	UserID                 string
	ScholarshipsCollection string
	ScholarshipID          string
}

// BootstrapReport summarizes the startup phase.
type BootstrapReport struct {
	Ready    bool
	Fallback bool
	Elapsed  time.Duration
	// Err is why the cache was left not ready, if it was.
	Err error
}

// Bootstrap fetches both source records, distills them and fills cache. It
// never fails the process: when a record is missing or the model call fails
// the cache stays not ready and the reason is in the report.
func Bootstrap(ctx context.Context, records RecordFetcher, src Sources, d *Distiller, cache *ContextCache, logger *zap.Logger) BootstrapReport {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	report := func(err error) BootstrapReport {
		state := cache.Get()
		r := BootstrapReport{
			Ready:    state.Ready,
			Fallback: state.Context.Fallback,
			Elapsed:  time.Since(start),
			Err:      err,
		}
		if err != nil {
			logger.Warn("context not loaded; /generate will report it", zap.Error(err), zap.Duration("elapsed", r.Elapsed))
		} else {
			logger.Info("context loaded", zap.Bool("fallback", r.Fallback), zap.Duration("elapsed", r.Elapsed))
		}
		return r
	}

	var user, scholarship store.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec, err := fetch(gctx, records, src.UsersCollection, src.UserID)
		user = rec
		return err
	})
	g.Go(func() error {
		rec, err := fetch(gctx, records, src.ScholarshipsCollection, src.ScholarshipID)
		scholarship = rec
		return err
	})
	if err := g.Wait(); err != nil {
		return report(err)
	}
	logger.Info("source records fetched", zap.String("user", src.UserID), zap.String("scholarship", src.ScholarshipID))

	dc, err := d.Distill(ctx, user, scholarship)
	if err != nil {
		return report(fmt.Errorf("distill: %w", err))
	}
	if err := cache.Set(dc); err != nil {
		return report(err)
	}
	return report(nil)
}

func fetch(ctx context.Context, records RecordFetcher, collection, id string) (store.Record, error) {
	if id == "" {
		return store.Record{}, fmt.Errorf("%w: no id configured for %s", ErrMissingSource, collection)
	}
	rec, err := records.FetchByID(ctx, collection, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Record{}, fmt.Errorf("%w: %w", ErrMissingSource, err)
		}
		return store.Record{}, fmt.Errorf("%w: %s/%s: %w", ErrMissingSource, collection, id, err)
	}
	return rec, nil
}
