// Package scheduler owns the automation run lifecycle: the cron trigger, the
// single-flight run state machine, the delivery gate, and cooperative stop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lienfeed/recorder-feed/internal/metrics"
	"github.com/lienfeed/recorder-feed/internal/recorder"
)

// ErrNoActiveRun is returned by StopAutomation when nothing is running.
var ErrNoActiveRun = errors.New("no automation run in progress")

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopping
)

// ScraperFactory builds a ready-to-initialize scraper for one county.
type ScraperFactory interface {
	ScraperFor(ctx context.Context, county recorder.County) (recorder.Scraper, error)
}

// Config bounds the orchestrator's timeouts and names its publish topic.
type Config struct {
	InitTimeout   time.Duration
	CountyTimeout time.Duration
	StaleAfter    time.Duration
	RunTopic      string
}

// Orchestrator iterates active counties on a schedule or on demand, enforces
// the all-or-nothing delivery gate, and drives batched delivery. Only one
// run may be active at a time.
type Orchestrator struct {
	cfg       Config
	factory   ScraperFactory
	liens     recorder.LienStore
	runs      recorder.RunStore
	counties  recorder.CountyStore
	review    recorder.ReviewStore
	schedules recorder.ScheduleStore
	syncer    recorder.Syncer
	publisher recorder.Publisher
	clock     recorder.Clock
	logger    *zap.Logger

	mu        sync.Mutex
	state     runState
	cancelRun context.CancelFunc
	runID     int64
	cron      *cron.Cron
	done      chan struct{}
}

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Factory   ScraperFactory
	Liens     recorder.LienStore
	Runs      recorder.RunStore
	Counties  recorder.CountyStore
	Review    recorder.ReviewStore
	Schedules recorder.ScheduleStore
	Syncer    recorder.Syncer
	Publisher recorder.Publisher
	Clock     recorder.Clock
	Logger    *zap.Logger
}

// New builds an Orchestrator. Call Start to arm the cron trigger.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 2 * time.Minute
	}
	if cfg.CountyTimeout <= 0 {
		cfg.CountyTimeout = 30 * time.Minute
	}
	return &Orchestrator{
		cfg:       cfg,
		factory:   deps.Factory,
		liens:     deps.Liens,
		runs:      deps.Runs,
		counties:  deps.Counties,
		review:    deps.Review,
		schedules: deps.Schedules,
		syncer:    deps.Syncer,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
}

// Start loads the persisted schedule and arms the cron trigger.
func (o *Orchestrator) Start(ctx context.Context) error {
	schedule, err := o.schedules.GetSchedule(ctx)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applyScheduleLocked(schedule)
	return nil
}

// Shutdown disarms the cron trigger and cancels any in-flight run, waiting
// for it to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.cron != nil {
		o.cron.Stop()
		o.cron = nil
	}
	done := o.done
	if o.state == stateRunning && o.cancelRun != nil {
		o.state = stateStopping
		o.cancelRun()
	}
	o.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAutomation starts a run unless one is already active. The run proceeds
// in the background; the returned AutomationRun identifies it.
func (o *Orchestrator) RunAutomation(ctx context.Context, req recorder.RunRequest) (recorder.AutomationRun, error) {
	o.mu.Lock()
	if o.state != stateIdle {
		o.mu.Unlock()
		return recorder.AutomationRun{}, recorder.ErrRunInProgress
	}
	o.state = stateRunning
	o.done = make(chan struct{})
	o.mu.Unlock()

	run, err := o.runs.CreateRun(ctx, req.Trigger, o.clock.Now())
	if err != nil {
		o.mu.Lock()
		o.state = stateIdle
		close(o.done)
		o.done = nil
		o.mu.Unlock()
		return recorder.AutomationRun{}, fmt.Errorf("create run: %w", err)
	}

	// The run outlives the triggering request, so it gets its own context.
	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancelRun = cancel
	o.runID = run.ID
	o.mu.Unlock()

	go o.execute(runCtx, run, req)
	return run, nil
}

// StopAutomation cancels the in-flight run. The run context is observed at
// page, record, and county loop boundaries; sessions close as each scraper's
// Cleanup runs.
func (o *Orchestrator) StopAutomation(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != stateRunning || o.cancelRun == nil {
		return ErrNoActiveRun
	}
	o.state = stateStopping
	o.cancelRun()
	return nil
}

// Status reports whether a run is active and the most recent run record.
func (o *Orchestrator) Status(ctx context.Context) (bool, recorder.AutomationRun, error) {
	o.mu.Lock()
	running := o.state != stateIdle
	o.mu.Unlock()

	latest, err := o.runs.LatestRun(ctx)
	if err != nil && !errors.Is(err, recorder.ErrNotFound) {
		return running, recorder.AutomationRun{}, err
	}
	return running, latest, nil
}

// ScheduleInfo returns the persisted schedule.
func (o *Orchestrator) ScheduleInfo(ctx context.Context) (recorder.Schedule, error) {
	return o.schedules.GetSchedule(ctx)
}

// UpdateSchedule validates, persists, and re-arms the cron trigger.
func (o *Orchestrator) UpdateSchedule(ctx context.Context, schedule recorder.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	if err := o.schedules.PutSchedule(ctx, schedule); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applyScheduleLocked(schedule)
	return nil
}

func (o *Orchestrator) applyScheduleLocked(schedule recorder.Schedule) {
	if o.cron != nil {
		o.cron.Stop()
		o.cron = nil
	}
	if !schedule.Enabled {
		o.logger.Info("schedule disabled, cron trigger disarmed")
		return
	}
	c := cron.New(cron.WithLocation(schedule.Location()))
	if _, err := c.AddFunc(schedule.CronSpec(), o.scheduledRun); err != nil {
		o.logger.Error("arm cron trigger", zap.Error(err))
		return
	}
	c.Start()
	o.cron = c
	o.logger.Info("cron trigger armed",
		zap.String("spec", schedule.CronSpec()),
		zap.String("timezone", schedule.Timezone),
	)
}

func (o *Orchestrator) scheduledRun() {
	_, err := o.RunAutomation(context.Background(), recorder.RunRequest{Trigger: recorder.TriggerScheduled})
	if err != nil && !errors.Is(err, recorder.ErrRunInProgress) {
		o.logger.Error("scheduled run failed to start", zap.Error(err))
	}
}

// execute drives one full run: stale marking, per-county scraping, the
// delivery gate, and sync.
func (o *Orchestrator) execute(ctx context.Context, run recorder.AutomationRun, req recorder.RunRequest) {
	var (
		status   = recorder.RunStatusCompleted
		errText  string
		produced []recorder.ScrapedLien
		synced   int
	)
	defer func() {
		o.finishRun(run.ID, status, errText, len(produced), synced)
	}()

	if o.cfg.StaleAfter > 0 {
		cutoff := o.clock.Now().Add(-o.cfg.StaleAfter)
		if n, err := o.liens.MarkStaleBefore(ctx, cutoff); err != nil {
			o.logger.Warn("stale marking failed", zap.Error(err))
		} else if n > 0 {
			o.logger.Info("aged out pending liens", zap.Int64("count", n))
		}
	}

	from, to := o.dateRange(ctx, req)
	counties, err := o.counties.ListActiveCounties(ctx)
	if err != nil {
		status = recorder.RunStatusFailed
		errText = fmt.Sprintf("list counties: %v", err)
		return
	}
	o.logger.Info("run started",
		zap.Int64("run_id", run.ID),
		zap.String("trigger", string(run.Trigger)),
		zap.Int("counties", len(counties)),
		zap.Time("from", from),
		zap.Time("to", to),
	)

	for _, county := range counties {
		if ctx.Err() != nil {
			status = recorder.RunStatusStopped
			return
		}
		produced = append(produced, o.runCounty(ctx, run.ID, county, from, to, req.Limit)...)
	}
	if ctx.Err() != nil {
		status = recorder.RunStatusStopped
		return
	}

	deliverable, blocking, err := o.applyGate(ctx, run.ID, produced)
	if err != nil {
		status = recorder.RunStatusFailed
		errText = err.Error()
		return
	}
	if len(blocking) > 0 {
		status = recorder.RunStatusNeedsReview
		errText = fmt.Sprintf("%d new records lack a usable pdf", len(blocking))
		return
	}
	if len(deliverable) == 0 {
		return
	}

	report, err := o.syncer.Sync(ctx, deliverable)
	synced = report.Synced
	if err != nil {
		status = recorder.RunStatusFailed
		errText = fmt.Sprintf("sync: %v", err)
	}
}

// runCounty executes one county sub-pass with its own audit record. Failures
// are contained: one county must never block the others.
func (o *Orchestrator) runCounty(ctx context.Context, runID int64, county recorder.County, from, to time.Time, limit int) []recorder.ScrapedLien {
	countyRun, err := o.runs.CreateCountyRun(ctx, runID, county.ID, o.clock.Now())
	if err != nil {
		o.logger.Error("create county run", zap.String("county", county.Name), zap.Error(err))
		return nil
	}
	start := time.Now()

	produced, err := o.scrapeCounty(ctx, county, from, to, limit)
	metrics.ObserveCountyScrape(county.Name, time.Since(start))

	status := recorder.RunStatusCompleted
	var errText string
	if err != nil {
		if ctx.Err() != nil {
			status = recorder.RunStatusStopped
		} else {
			status = recorder.RunStatusFailed
		}
		errText = err.Error()
		o.logger.Warn("county run failed",
			zap.String("county", county.Name),
			zap.Error(err),
		)
	}
	// Audit writes survive run cancellation.
	auditCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.runs.CompleteCountyRun(auditCtx, countyRun.ID, status, errText, len(produced), len(produced), o.clock.Now()); err != nil {
		o.logger.Error("complete county run", zap.Error(err))
	}
	return produced
}

func (o *Orchestrator) scrapeCounty(ctx context.Context, county recorder.County, from, to time.Time, limit int) ([]recorder.ScrapedLien, error) {
	scraper, err := o.factory.ScraperFor(ctx, county)
	if err != nil {
		return nil, fmt.Errorf("build scraper: %w", err)
	}
	defer scraper.Cleanup()

	initCtx, cancelInit := context.WithTimeout(ctx, o.cfg.InitTimeout)
	err = scraper.Initialize(initCtx)
	cancelInit()
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	scrapeCtx, cancelScrape := context.WithTimeout(ctx, o.cfg.CountyTimeout)
	defer cancelScrape()
	produced, err := scraper.Scrape(scrapeCtx, from, to, limit)
	if err != nil {
		return produced, fmt.Errorf("scrape: %w", err)
	}
	return produced, nil
}

// applyGate partitions this run's output plus pre-existing pending rows.
// Any record newly produced in this run that lacks a usable PDF halts the
// entire delivery; the blocking rows are stashed for operator review.
// Pre-existing pending rows never trigger a halt on their own.
func (o *Orchestrator) applyGate(ctx context.Context, runID int64, produced []recorder.ScrapedLien) (deliverable, blocking []recorder.PersistedLien, err error) {
	for _, lien := range produced {
		row, err := o.liens.GetLien(ctx, lien.RecordingNumber)
		if err != nil {
			if errors.Is(err, recorder.ErrNotFound) {
				continue
			}
			return nil, nil, fmt.Errorf("load produced lien %s: %w", lien.RecordingNumber, err)
		}
		if !row.HasPdf() && row.Status != recorder.LienStatusSynced {
			blocking = append(blocking, row)
		}
	}
	if len(blocking) > 0 {
		if err := o.review.Stash(ctx, runID, blocking); err != nil {
			return nil, nil, fmt.Errorf("stash review records: %w", err)
		}
		return nil, blocking, nil
	}

	// Pending rows from earlier runs ride along with this run's output.
	deliverable, err = o.liens.ListByStatus(ctx, recorder.LienStatusPending)
	if err != nil {
		return nil, nil, fmt.Errorf("list pending liens: %w", err)
	}
	return deliverable, nil, nil
}

// dateRange defaults the window to yesterday in the schedule's timezone;
// county records lag by a day.
func (o *Orchestrator) dateRange(ctx context.Context, req recorder.RunRequest) (time.Time, time.Time) {
	if req.FromDate != nil && req.ToDate != nil {
		return *req.FromDate, *req.ToDate
	}
	loc := time.UTC
	if schedule, err := o.schedules.GetSchedule(ctx); err == nil {
		loc = schedule.Location()
	}
	now := o.clock.Now().In(loc)
	yesterday := now.AddDate(0, 0, -1)
	from := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, loc)
	if req.FromDate != nil {
		from = *req.FromDate
	}
	to := from.Add(24 * time.Hour)
	if req.ToDate != nil {
		to = *req.ToDate
	}
	return from, to
}

func (o *Orchestrator) finishRun(runID int64, status recorder.RunStatus, errText string, found, synced int) {
	// Completion bookkeeping runs on a fresh context: a stopped run must
	// still record its terminal status.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	o.mu.Lock()
	if o.state == stateStopping && status != recorder.RunStatusFailed {
		status = recorder.RunStatusStopped
	}
	o.mu.Unlock()

	if err := o.runs.CompleteRun(ctx, runID, status, errText, found, synced, o.clock.Now()); err != nil {
		o.logger.Error("complete run", zap.Int64("run_id", runID), zap.Error(err))
	}
	metrics.ObserveRun(string(status))
	o.publishRunEvent(ctx, runID, status, found, synced)

	o.mu.Lock()
	o.state = stateIdle
	o.cancelRun = nil
	o.runID = 0
	if o.done != nil {
		close(o.done)
		o.done = nil
	}
	o.mu.Unlock()

	o.logger.Info("run finished",
		zap.Int64("run_id", runID),
		zap.String("status", string(status)),
		zap.Int("found", found),
		zap.Int("synced", synced),
	)
}

func (o *Orchestrator) publishRunEvent(ctx context.Context, runID int64, status recorder.RunStatus, found, synced int) {
	if o.publisher == nil || o.cfg.RunTopic == "" {
		return
	}
	payload := map[string]any{
		"run_id": runID,
		"status": status,
		"found":  found,
		"synced": synced,
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.RunTopic, payload); err != nil {
		o.logger.Warn("publish run event", zap.Error(err))
	}
}

// ApproveReview releases the held records back to pending and re-queues them
// for delivery despite their missing PDFs.
func (o *Orchestrator) ApproveReview(ctx context.Context) (int, error) {
	held, err := o.review.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear review set: %w", err)
	}
	for _, lien := range held {
		if err := o.liens.UpdateStatus(ctx, lien.RecordingNumber, recorder.LienStatusPending); err != nil {
			return 0, fmt.Errorf("requeue %s: %w", lien.RecordingNumber, err)
		}
	}
	return len(held), nil
}

// RejectReview clears the held records, marking them pdf_failed so they are
// excluded from future deliveries.
func (o *Orchestrator) RejectReview(ctx context.Context) (int, error) {
	held, err := o.review.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear review set: %w", err)
	}
	for _, lien := range held {
		if err := o.liens.UpdateStatus(ctx, lien.RecordingNumber, recorder.LienStatusPdfFailed); err != nil {
			return 0, fmt.Errorf("mark %s pdf_failed: %w", lien.RecordingNumber, err)
		}
	}
	return len(held), nil
}

// ListReview returns the records currently blocking delivery.
func (o *Orchestrator) ListReview(ctx context.Context) ([]recorder.PersistedLien, error) {
	return o.review.List(ctx)
}

// ListRuns returns recent run history.
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]recorder.AutomationRun, error) {
	return o.runs.ListRuns(ctx, limit)
}

// ListCountyRuns returns the per-county breakdown of one run.
func (o *Orchestrator) ListCountyRuns(ctx context.Context, runID int64) ([]recorder.CountyRun, error) {
	return o.runs.ListCountyRuns(ctx, runID)
}
