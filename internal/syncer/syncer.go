package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"icssync/internal/config"
	"icssync/internal/dest"
	"icssync/internal/models"
	"icssync/internal/placeholder"
	"icssync/internal/reconcile"
)

// DefaultWriteTimeout bounds a single destination write.
const DefaultWriteTimeout = 30 * time.Second

// Source produces the events of one source calendar. release frees local
// resources held for the loaded events and is called once they are applied.
type Source interface {
	Name() string
	Load(ctx context.Context) (events []*models.Event, release func(), err error)
}

// Destination is the calendar store the sources are copied into.
type Destination interface {
	GetCalendarByIdentifier(ctx context.Context, id string) ([]*models.Event, error)
	AddOrUpdateEvent(ctx context.Context, calendarID string, ev *models.Event) error
	DeleteEvent(ctx context.Context, ev *models.Event) error
}

// Cleaner removes temporary files left behind by earlier cycles.
type Cleaner interface {
	CleanStale() int
}

// Clock tells the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options configure a Syncer.
type Options struct {
	// CalendarID identifies the destination calendar.
	CalendarID string
	DryRun     bool
	Workers    int
	// WriteTimeout bounds each destination write.
	WriteTimeout time.Duration
	// Placeholders enables placeholder removal when set.
	Placeholders *placeholder.Matcher
	// PlaceholderView is config.ViewSnapshot or config.ViewRefetch.
	PlaceholderView string
	Cleaner         Cleaner
	Clock           Clock
}

// Syncer orchestrates the synchronization of the sources into the destination.
type Syncer struct {
	logger  *slog.Logger
	sources []Source
	dest    Destination
	opts    Options
	clock   Clock

	mu   sync.RWMutex
	last *Report
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, sources []Source, destination Destination, opts Options) *Syncer {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PlaceholderView == "" {
		opts.PlaceholderView = config.ViewSnapshot
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Syncer{
		logger:  logger,
		sources: sources,
		dest:    destination,
		opts:    opts,
		clock:   clock,
	}
}

// LastReport returns the report of the most recent cycle, nil before the first one.
func (s *Syncer) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run performs sync cycles back to back, waiting delay after each one,
// until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context, delay time.Duration) {
	s.logger.Info("Starting watcher.", "delay", delay)
	for {
		s.RunOnce(ctx)
		if ctx.Err() != nil {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}
	s.logger.Info("Watcher stopped.")
}

// RunOnce performs a full synchronization cycle. Failures are logged and
// counted, they never abort the cycle.
func (s *Syncer) RunOnce(ctx context.Context) Report {
	rep := newReport(s.clock.Now(), s.opts.DryRun)
	logger := s.logger.With("cycle", rep.CycleID)
	logger.Info("Starting sync cycle.", "sources", len(s.sources))

	if s.opts.Cleaner != nil {
		if n := s.opts.Cleaner.CleanStale(); n > 0 {
			logger.Info("Removed stale downloads.", "count", n)
		}
	}

	for _, src := range s.sources {
		if ctx.Err() != nil {
			logger.Warn("Sync cycle cancelled, remaining sources are skipped.")
			rep.Cancelled = true
			break
		}
		rep.add(s.syncSource(ctx, logger.With("source", src.Name()), src))
	}

	rep.Duration = s.clock.Now().Sub(rep.StartedAt)
	logger.Info("Sync cycle finished.",
		"created", rep.Created, "updated", rep.Updated, "deleted", rep.Deleted,
		"skipped", rep.Skipped, "ambiguous", rep.Ambiguous, "failed", rep.Failed,
		"duration", rep.Duration)

	s.mu.Lock()
	s.last = &rep
	s.mu.Unlock()
	return rep
}

func (s *Syncer) syncSource(ctx context.Context, logger *slog.Logger, src Source) SourceReport {
	sr := SourceReport{Name: src.Name()}

	events, release, err := src.Load(ctx)
	if err != nil {
		logger.Error("Could not load source calendar", "error", err)
		sr.Error = err.Error()
		return sr
	}
	if release != nil {
		defer release()
	}

	current, err := s.dest.GetCalendarByIdentifier(ctx, s.opts.CalendarID)
	if err != nil {
		if errors.Is(err, dest.ErrCalendarNotFound) {
			logger.Error("Destination calendar not found", "calendar", s.opts.CalendarID)
		} else {
			logger.Error("Could not read destination calendar", "calendar", s.opts.CalendarID, "error", err)
		}
		sr.Error = err.Error()
		return sr
	}
	logger.Info("Loaded calendars.", "events", len(events), "destination", len(current))

	ops, err := reconcile.Reconcile(ctx, events, current, reconcile.Options{Workers: s.opts.Workers})
	if err != nil {
		logger.Error("Reconciliation failed", "error", err)
		sr.Error = err.Error()
		return sr
	}

	snapshot := slices.Clone(current)
	for _, op := range ops {
		switch op.Kind {
		case models.OpCreate, models.OpUpdate:
			if !s.apply(ctx, logger, op, &sr.Counts) {
				continue
			}
			if op.Kind == models.OpUpdate {
				swap(snapshot, op.Event)
			}
		case models.OpSkip:
			s.skip(logger, op, &sr.Counts)
		}
	}

	if s.opts.Placeholders != nil {
		s.removePlaceholders(ctx, logger, snapshot, &sr)
	}
	return sr
}

func (s *Syncer) removePlaceholders(ctx context.Context, logger *slog.Logger, snapshot []*models.Event, sr *SourceReport) {
	view := snapshot
	if s.opts.PlaceholderView == config.ViewRefetch {
		var err error
		view, err = s.dest.GetCalendarByIdentifier(ctx, s.opts.CalendarID)
		if err != nil {
			logger.Error("Could not re-read destination calendar for placeholders", "error", err)
			sr.Error = fmt.Errorf("placeholder pass: %w", err).Error()
			return
		}
	}

	for _, op := range s.opts.Placeholders.FindPlaceholderDeletions(view) {
		switch op.Kind {
		case models.OpDelete:
			s.apply(ctx, logger, op, &sr.Counts)
		case models.OpSkip:
			s.skip(logger, op, &sr.Counts)
		}
	}
}

// apply issues one write. The write is detached from ctx so a cancelled
// cycle never leaves an operation half-applied; WriteTimeout bounds it.
func (s *Syncer) apply(ctx context.Context, logger *slog.Logger, op models.Operation, c *Counts) bool {
	ev := op.Event
	attrs := []any{"title", ev.Summary, "uid", ev.UID, "start", formatTime(ev.Start), "end", formatTime(ev.End)}

	if s.opts.DryRun {
		logger.Info("[DRY RUN] Would "+op.Kind.String()+" event", append(attrs, "fields", op.Fields)...)
		c.count(op.Kind)
		return true
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	var err error
	switch op.Kind {
	case models.OpCreate:
		logger.Info("Adding event.", attrs...)
		err = s.dest.AddOrUpdateEvent(wctx, s.opts.CalendarID, ev)
	case models.OpUpdate:
		logger.Info("Updating event.", append(attrs, "fields", op.Fields)...)
		err = s.dest.AddOrUpdateEvent(wctx, s.opts.CalendarID, ev)
	case models.OpDelete:
		logger.Info("Deleting confirmed event superseded by placeholder.", attrs...)
		err = s.dest.DeleteEvent(wctx, ev)
	}
	if err != nil {
		logger.Error("Failed to "+op.Kind.String()+" event", "title", ev.Summary, "uid", ev.UID, "error", err)
		c.Failed++
		return false
	}
	c.count(op.Kind)
	return true
}

func (s *Syncer) skip(logger *slog.Logger, op models.Operation, c *Counts) {
	c.Skipped++
	if op.Ambiguous {
		c.Ambiguous++
		logger.Warn("Skipping ambiguous event", "uid", op.UID, "reason", op.Reason)
		return
	}
	ev := op.Event
	logger.Debug("Event unchanged.", "title", ev.Summary, "uid", ev.UID, "start", formatTime(ev.Start), "end", formatTime(ev.End))
}

// swap replaces the snapshot entry with the UID of merged.
func swap(snapshot []*models.Event, merged *models.Event) {
	for i, ev := range snapshot {
		if ev.UID == merged.UID {
			snapshot[i] = merged
			return
		}
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
