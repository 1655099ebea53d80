package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Run outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeFatal     = "fatal"
	OutcomeCanceled  = "canceled"
	OutcomeExport    = "export-failed"
)

// LoginFlow authenticates the shared driver session.
type LoginFlow interface {
	Login(ctx context.Context, creds Credentials) error
}

// Observer receives run and subject level measurements.
type Observer interface {
	SubjectFinished(status Status)
	RunFinished(outcome string, elapsed time.Duration)
	CheckpointAdvanced(date time.Time)
}

// RunNotification is published after a run reaches export.
type RunNotification struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Extracted  int       `json:"extracted"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	ExportURI  string    `json:"export_uri"`
	Checkpoint string    `json:"checkpoint"`
}

// CrawlConfig tunes a Crawler.
type CrawlConfig struct {
	// Full bypasses the delta filter; every linked subject qualifies.
	Full bool
	// InitialStart opens the delta window when no checkpoint exists yet.
	// Zero means a first run crawls every linked subject.
	InitialStart   time.Time
	ExportPrefix   string
	IdentityLength int
	// Topic receives a RunNotification when Publisher is set.
	Topic    string
	Location *time.Location
}

// Deps wires the Crawler's collaborators. Ledger, Publisher and Observer are
// optional.
type Deps struct {
	Roster      RosterSource
	Login       LoginFlow
	Delta       DeltaSource
	Extractor   SubjectExtractor
	Throttle    Throttle
	Store       ArtifactStore
	Checkpoints *Checkpoints
	Clock       Clock
	IDs         IDGenerator
	Ledger      Ledger
	Publisher   Publisher
	Observer    Observer
	Logger      *zap.Logger
}

// Crawler owns the run lifecycle: roster, login, delta, sequential
// extraction, export and checkpoint.
type Crawler struct {
	deps Deps
	cfg  CrawlConfig
	log  *zap.Logger
}

// NewCrawler validates deps and constructs a Crawler.
func NewCrawler(deps Deps, cfg CrawlConfig) (*Crawler, error) {
	switch {
	case deps.Roster == nil:
		return nil, errors.New("roster source is required")
	case deps.Login == nil:
		return nil, errors.New("login flow is required")
	case deps.Delta == nil && !cfg.Full:
		return nil, errors.New("delta source is required unless crawling in full mode")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Throttle == nil:
		return nil, errors.New("throttle is required")
	case deps.Store == nil:
		return nil, errors.New("artifact store is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("checkpoints are required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.IdentityLength <= 0 {
		cfg.IdentityLength = 8
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Crawler{deps: deps, cfg: cfg, log: log}, nil
}

// Run performs one crawl. Fatal errors return before any subject is attempted
// and leave the checkpoint untouched. A canceled context stops the loop,
// writes a partial export and leaves the checkpoint untouched.
func (c *Crawler) Run(ctx context.Context, creds Credentials, bounds Bounds) (RunSummary, error) {
	if !creds.Complete() {
		return RunSummary{}, &ConfigurationError{Reason: "username and password are required"}
	}
	if err := bounds.Validate(); err != nil {
		return RunSummary{}, &ConfigurationError{Reason: err.Error()}
	}
	runID, err := c.deps.IDs.NewID()
	if err != nil {
		return RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	summary := RunSummary{RunID: runID, StartedAt: c.deps.Clock.Now()}
	log := c.log.With(zap.String("run_id", runID))

	subjects, delta, window, err := c.prepare(ctx, creds, summary.StartedAt, log)
	if err != nil {
		c.finishRun(OutcomeFatal, summary.StartedAt)
		return summary, err
	}
	summary.Window = window
	log.Info("crawl started",
		zap.Int("roster", len(subjects)),
		zap.Bool("delta_bypassed", delta == nil),
		zap.Int("first_index", bounds.First),
		zap.Int("last_index", bounds.Last),
	)

	for i, subject := range subjects {
		position := i + 1
		if !bounds.Contains(position) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return c.interrupted(ctx, summary, position, err, log)
		}
		result, err := c.process(ctx, subject, delta, log)
		if err != nil {
			return c.interrupted(ctx, summary, position, err, log)
		}
		c.record(ctx, runID, result, log)
		summary.add(result)
	}

	if err := ctx.Err(); err != nil {
		return c.interrupted(ctx, summary, 0, err, log)
	}
	if err := c.export(ctx, &summary); err != nil {
		c.finishRun(OutcomeExport, summary.StartedAt)
		return summary, err
	}
	summary.FinishedAt = c.deps.Clock.Now()
	c.notify(ctx, summary, log)
	c.finishRun(OutcomeCompleted, summary.StartedAt)

	log.Info("crawl finished",
		zap.Int("extracted", summary.Extracted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.String("export", summary.ExportURI),
		zap.String("checkpoint", FormatCheckpoint(summary.Checkpoint)),
	)
	return summary, nil
}

// prepare runs every step that may fail fatally. A nil DeltaSet means every
// linked subject qualifies.
func (c *Crawler) prepare(ctx context.Context, creds Credentials, startedAt time.Time, log *zap.Logger) ([]Subject, DeltaSet, Window, error) {
	subjects, err := c.deps.Roster.Load(ctx)
	if err != nil {
		var rfe *RosterFormatError
		if !errors.As(err, &rfe) {
			err = &RosterFormatError{Source: "roster", Err: err}
		}
		return nil, nil, Window{}, err
	}
	if err := c.deps.Login.Login(ctx, creds); err != nil {
		var le *LoginError
		if !errors.As(err, &le) && !IsFatal(err) {
			err = &LoginError{Step: "login", Err: err}
		}
		return nil, nil, Window{}, err
	}
	if c.cfg.Full {
		log.Info("full crawl requested; delta filter bypassed")
		return subjects, nil, Window{}, nil
	}

	start, ok, err := c.deps.Checkpoints.Load(ctx)
	if err != nil {
		return nil, nil, Window{}, &DeltaComputationError{Err: fmt.Errorf("load checkpoint: %w", err)}
	}
	if !ok {
		if c.cfg.InitialStart.IsZero() {
			log.Info("no checkpoint found; delta filter bypassed")
			return subjects, nil, Window{}, nil
		}
		start = c.cfg.InitialStart
	}
	window := deltaWindow(start, startedAt, c.cfg.Location)
	delta, err := c.deps.Delta.Compute(ctx, window)
	if err != nil {
		var dce *DeltaComputationError
		if !errors.As(err, &dce) {
			err = &DeltaComputationError{Err: err}
		}
		return nil, nil, Window{}, err
	}
	return subjects, delta, window, nil
}

// deltaWindow spans [start, yesterday]. A start after yesterday collapses to
// the single day yesterday.
func deltaWindow(start, now time.Time, loc *time.Location) Window {
	end := Yesterday(now, loc)
	start = StartOfDay(start, loc)
	if start.After(end) {
		start = end
	}
	return Window{Start: start, End: end}
}

// process returns an error only when ctx was canceled while waiting for the
// throttle; the subject was not attempted and gets no result.
func (c *Crawler) process(ctx context.Context, subject Subject, delta DeltaSet, log *zap.Logger) (Result, error) {
	key := subject.ArtifactName("")
	if !subject.HasLink() {
		log.Info("subject skipped", zap.String("subject", key), zap.String("reason", ReasonNoLink))
		return c.skip(subject, ReasonNoLink), nil
	}
	if delta != nil && !delta.Contains(subject.Identity(c.cfg.IdentityLength)) {
		log.Info("subject skipped", zap.String("subject", key), zap.String("reason", ReasonNotInDelta))
		return c.skip(subject, ReasonNotInDelta), nil
	}

	// Skips above never touch the portal, so only subjects that reach
	// extraction take a throttle slot and start a cooldown.
	if err := c.deps.Throttle.Acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		result := newResult(subject)
		result.finish(Failed("error:throttle"), c.deps.Clock.Now())
		log.Error("throttle wait aborted", zap.String("subject", key), zap.Error(err))
		c.observe(result.Status)
		return result, nil
	}
	result := c.deps.Extractor.Extract(ctx, subject)
	c.deps.Throttle.Release()
	c.observe(result.Status)
	return result, nil
}

func (c *Crawler) skip(subject Subject, reason string) Result {
	result := newResult(subject)
	result.finish(Skipped(reason), c.deps.Clock.Now())
	c.observe(result.Status)
	return result
}

func (c *Crawler) export(ctx context.Context, summary *RunSummary) error {
	if err := c.writeExport(ctx, summary); err != nil {
		return err
	}
	checkpoint, err := c.deps.Checkpoints.Advance(ctx, Yesterday(summary.StartedAt, c.cfg.Location))
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	summary.Checkpoint = checkpoint
	if c.deps.Observer != nil {
		c.deps.Observer.CheckpointAdvanced(checkpoint)
	}
	return nil
}

func (c *Crawler) writeExport(ctx context.Context, summary *RunSummary) error {
	data, err := EncodeResults(Exportable(summary.Results))
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	key := ExportKey(c.cfg.ExportPrefix, summary.StartedAt)
	uri, err := c.deps.Store.Write(ctx, key, "text/csv; charset=utf-8", data)
	if err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	summary.ExportKey = key
	summary.ExportURI = uri
	return nil
}

// interrupted keeps the work finished before cancellation: the partial
// export is written on a detached context, the checkpoint stays where it was
// so the next run covers the same window again.
func (c *Crawler) interrupted(ctx context.Context, summary RunSummary, position int, cause error, log *zap.Logger) (RunSummary, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := c.writeExport(writeCtx, &summary); err != nil {
		log.Warn("partial export failed", zap.Error(err))
	} else {
		log.Info("partial export written",
			zap.String("export", summary.ExportURI),
			zap.Int("results", len(summary.Results)),
		)
	}
	summary.FinishedAt = c.deps.Clock.Now()
	c.finishRun(OutcomeCanceled, summary.StartedAt)
	if position > 0 {
		return summary, fmt.Errorf("crawl interrupted at position %d: %w", position, cause)
	}
	return summary, fmt.Errorf("crawl interrupted: %w", cause)
}

func (c *Crawler) record(ctx context.Context, runID string, result Result, log *zap.Logger) {
	if c.deps.Ledger == nil {
		return
	}
	if err := c.deps.Ledger.Record(ctx, runID, result); err != nil {
		log.Warn("ledger record failed", zap.String("subject", result.Subject.ArtifactName("")), zap.Error(err))
	}
}

func (c *Crawler) notify(ctx context.Context, summary RunSummary, log *zap.Logger) {
	if c.deps.Publisher == nil || c.cfg.Topic == "" {
		return
	}
	msg := RunNotification{
		RunID:      summary.RunID,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Extracted:  summary.Extracted,
		Skipped:    summary.Skipped,
		Failed:     summary.Failed,
		ExportURI:  summary.ExportURI,
		Checkpoint: FormatCheckpoint(summary.Checkpoint),
	}
	id, err := c.deps.Publisher.Publish(ctx, c.cfg.Topic, msg)
	if err != nil {
		log.Warn("run notification failed", zap.String("topic", c.cfg.Topic), zap.Error(err))
		return
	}
	log.Debug("run notification published", zap.String("message_id", id))
}

func (c *Crawler) observe(status Status) {
	if c.deps.Observer != nil {
		c.deps.Observer.SubjectFinished(status)
	}
}

func (c *Crawler) finishRun(outcome string, startedAt time.Time) {
	if c.deps.Observer != nil {
		c.deps.Observer.RunFinished(outcome, c.deps.Clock.Now().Sub(startedAt))
	}
}
