package ecs

import (
	"context"
	"time"

	"github.com/argus-labs/ecsruntime/pkg/statsd"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// batch is a set of systems with no conflicting component access. Systems of a batch run
// concurrently.
type batch struct {
	systems []*systemRecord
	access  accessSet // Union of the access of every member
}

// buildBatches partitions the systems into batches. Each system, in the given order, joins the
// first batch it doesn't conflict with, or opens a new batch at the end.
func buildBatches(systems []*systemRecord) []batch {
	batches := make([]batch, 0)
	for _, rec := range systems {
		placed := false
		for i := range batches {
			if !batches[i].access.conflicts(&rec.access) {
				batches[i].systems = append(batches[i].systems, rec)
				batches[i].access.merge(&rec.access)
				placed = true
				break
			}
		}
		if placed {
			continue
		}

		b := batch{systems: []*systemRecord{rec}}
		b.access.merge(&rec.access)
		batches = append(batches, b)
	}
	return batches
}

// systemScheduler caches batch sets and runs them.
type systemScheduler struct {
	workers int

	frame      []batch // Batches of the every frame systems
	frameValid bool
	fixed      map[string][]batch // Batches of a set of due fixed rate systems, keyed by the set
}

func newSystemScheduler(workers int) systemScheduler {
	return systemScheduler{
		workers: workers,
		fixed:   make(map[string][]batch),
	}
}

// invalidate drops every cached batch set. Called whenever a system is registered, unregistered,
// enabled or disabled.
func (s *systemScheduler) invalidate() {
	s.frame = nil
	s.frameValid = false
	clear(s.fixed)
}

// frameBatches returns the batches of the every frame systems.
func (s *systemScheduler) frameBatches(records []*systemRecord) []batch {
	if s.frameValid {
		return s.frame
	}
	due := make([]*systemRecord, 0, len(records))
	for _, rec := range records {
		if rec.enabled && rec.rate.kind == rateEveryFrame {
			due = append(due, rec)
		}
	}
	s.frame = buildBatches(due)
	s.frameValid = true
	return s.frame
}

// fixedBatches returns the batches of a set of due fixed rate systems, reusing the batches
// computed the last time exactly this set was due.
func (s *systemScheduler) fixedBatches(due []*systemRecord) []batch {
	var set bitmap.Bitmap
	for _, rec := range due {
		set.Set(rec.seq)
	}
	key := string(set.ToBytes())
	if batches, ok := s.fixed[key]; ok {
		return batches
	}
	batches := buildBatches(due)
	s.fixed[key] = batches
	return batches
}

// runner is what the scheduler needs from the world to run a system.
type runner struct {
	world *World
	tick  uint64
	dt    func(rec *systemRecord) time.Duration
}

// run executes the batches in order. The systems of a batch run concurrently, bounded by the
// worker count. The first failing batch stops the run.
func (s *systemScheduler) run(ctx context.Context, r runner, batches []batch) error {
	for i := range batches {
		if err := s.runBatch(ctx, r, &batches[i]); err != nil {
			return eris.Wrapf(err, "batch %d failed", i)
		}
	}
	return nil
}

func (s *systemScheduler) runBatch(ctx context.Context, r runner, b *batch) error {
	// Writers are handed out here, in batch order, so the commands of a batch are applied in a
	// deterministic order regardless of which system finishes first.
	contexts := make([]*SystemContext, len(b.systems))
	for i, rec := range b.systems {
		contexts[i] = &SystemContext{
			world:  r.world,
			record: rec,
			dt:     r.dt(rec),
			tick:   r.tick,
			writer: r.world.commands.Writer(),
			log:    rec.log,
		}
	}

	// Single system batches don't need a goroutine.
	if len(contexts) == 1 {
		contexts[0].ctx = ctx
		return runSystem(r.world, contexts[0])
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.workers > 0 {
		g.SetLimit(s.workers)
	}
	for _, sctx := range contexts {
		sctx.ctx = gctx
		g.Go(func() error {
			return runSystem(r.world, sctx)
		})
	}
	return g.Wait()
}

// runSystem runs one system and records its timing.
func runSystem(w *World, sctx *SystemContext) error {
	rec := sctx.record
	spanCtx, span := w.tracer.Start(sctx.ctx, "ecs.system."+rec.name,
		trace.WithAttributes(attribute.String("system", rec.name), attribute.Int64("tick", int64(sctx.tick)))) //nolint:gosec // it's ok
	defer span.End()
	sctx.ctx = spanCtx

	start := time.Now()
	err := rec.system.Update(sctx)
	elapsed := time.Since(start)
	statsd.EmitSystemStat(elapsed, rec.name, w.tags...)

	if err != nil {
		span.RecordError(err)
		rec.log.Error().Err(err).Uint64("tick", sctx.tick).Msg("system failed")
		return eris.Wrapf(err, "system %s failed", rec.name)
	}
	rec.log.Trace().Dur("elapsed", elapsed).Uint64("tick", sctx.tick).Msg("system done")
	return nil
}
