// Package pipeline sequences one run of the CloudTrail filter:
//
//	Idle -> ConfigLoading -> Fetching -> Decompressing -> Filtering -> Notifying -> Done
//
// with Failed reachable from every non-terminal state. Stages run strictly in
// order; only notification dispatch fans out. The first failing stage aborts
// the run and its error is returned unchanged. Nothing is retried; the
// trigger owns redelivery.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cloudtrail-notifier/internal/archive"
	"github.com/fpang/cloudtrail-notifier/internal/events"
	"github.com/fpang/cloudtrail-notifier/internal/filterconfig"
	"github.com/fpang/cloudtrail-notifier/internal/metrics"
	"github.com/fpang/cloudtrail-notifier/internal/notify"
	"github.com/fpang/cloudtrail-notifier/internal/s3util"
	"github.com/fpang/cloudtrail-notifier/internal/scratch"
	"github.com/fpang/cloudtrail-notifier/internal/stageerr"
	"github.com/fpang/cloudtrail-notifier/internal/trail"
)

// ConfigProvider supplies the (cached) filter configuration.
type ConfigProvider interface {
	Load(ctx context.Context) (*filterconfig.FilterConfig, error)
}

// PublisherFunc returns an SNS publisher scoped to region. An empty region
// means the function's own region.
type PublisherFunc func(region string) notify.Publisher

// Options wires an Orchestrator to its collaborators.
type Options struct {
	Config      ConfigProvider
	Objects     s3util.ObjectGetter
	Publisher   PublisherFunc
	ScratchRoot string
	Concurrency int
	// Events is optional; nil disables run summaries.
	Events *events.Emitter
	// MetricsOut receives the EMF line; nil means stdout.
	MetricsOut io.Writer
}

// Orchestrator runs the pipeline. It holds no per-run state and is safe
// for concurrent use.
type Orchestrator struct {
	opts Options
}

// New returns an Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{opts: opts}
}

// Run records what happened during one invocation.
type Run struct {
	Ref     s3util.ObjectRef
	Token   string
	State   State
	History []State
	Records int
	Matched int
	Report  *notify.Report
	Err     error
}

func (r *Run) transition(to State) {
	if !canTransition(r.State, to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", r.State, to))
	}
	r.State = to
	r.History = append(r.History, to)
}

// Execute runs every stage for ref. token names the scratch workspace and
// should be unique per invocation (the Lambda request ID); empty generates
// one. The returned Run is never nil.
func (o *Orchestrator) Execute(ctx context.Context, ref s3util.ObjectRef, token string) (*Run, error) {
	start := time.Now()
	run := &Run{Ref: ref, Token: token, State: Idle, History: []State{Idle}}
	logger := log.With().Str("bucket", ref.Bucket).Str("key", ref.Key).Logger()

	err := o.execute(ctx, run, logger)
	elapsed := time.Since(start)

	if err != nil {
		failedIn := run.State
		run.Err = err
		run.transition(Failed)
		logger.Error().
			Err(err).
			Str("stage", failedIn.String()).
			Str("kind", kindName(err)).
			Dur("elapsed", elapsed).
			Msg("Error while handling object")
		o.report(ctx, run, failedIn, elapsed)
		return run, err
	}

	run.transition(Done)
	logger.Info().
		Int("records", run.Records).
		Int("matched", run.Matched).
		Dur("elapsed", elapsed).
		Msg("Finished handling object")
	o.report(ctx, run, Done, elapsed)
	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, logger zerolog.Logger) error {
	run.transition(ConfigLoading)
	cfg, err := o.opts.Config.Load(ctx)
	if err != nil {
		return err
	}

	run.transition(Fetching)
	ws, err := scratch.New(o.opts.ScratchRoot, run.Token)
	if err != nil {
		return stageerr.New(stageerr.FetchError, "scratch workspace", err)
	}
	defer ws.Cleanup()
	run.Token = ws.Token

	archivePath, err := s3util.FetchArchive(ctx, o.opts.Objects, run.Ref, ws)
	if err != nil {
		return err
	}

	run.transition(Decompressing)
	jsonPath, err := archive.Gunzip(archivePath)
	if err != nil {
		return err
	}

	run.transition(Filtering)
	result, err := trail.FilterFile(jsonPath, cfg.Predicates())
	if err != nil {
		return err
	}
	run.Records = result.Total
	run.Matched = len(result.Matched)
	logger.Info().Int("records", run.Records).Int("matched", run.Matched).Msg("Records filtered")

	run.transition(Notifying)
	n := notify.New(o.opts.Publisher(cfg.SNS.Region), Destination(cfg), o.opts.Concurrency)
	report, err := n.NotifyAll(ctx, result.Matched)
	run.Report = report
	return err
}

func kindName(err error) string {
	if kind, ok := stageerr.KindOf(err); ok {
		return kind.String()
	}
	return "Unknown"
}

// Destination returns where cfg sends notifications. A topic wins over an
// endpoint when both are set.
func Destination(cfg *filterconfig.FilterConfig) notify.Destination {
	if cfg.UsesTopic() {
		return notify.TopicDestination(cfg.SNS.TopicARN)
	}
	return notify.EndpointDestination(cfg.SNS.EndpointARN)
}

// report flushes run metrics and emits the run summary. Neither can fail
// the run.
func (o *Orchestrator) report(ctx context.Context, run *Run, stage State, elapsed time.Duration) {
	var rec *metrics.Recorder
	if o.opts.MetricsOut != nil {
		rec = metrics.NewWithWriter(metrics.Namespace, o.opts.MetricsOut)
	} else {
		rec = metrics.New(metrics.Namespace)
	}

	summary := events.RunSummary{
		Bucket:     run.Ref.Bucket,
		Key:        run.Ref.Key,
		RequestID:  run.Token,
		Outcome:    "success",
		Records:    run.Records,
		Matched:    run.Matched,
		DurationMs: elapsed.Milliseconds(),
	}
	if run.Report != nil {
		summary.Sent = run.Report.Sent
		summary.Failed = run.Report.Failed
	}

	rec.Count("RecordsTotal", run.Records).
		Count("RecordsMatched", run.Matched).
		Count("NotificationsSent", summary.Sent).
		Count("NotificationsFailed", summary.Failed).
		Duration("DurationMs", elapsed).
		Property("bucket", run.Ref.Bucket).
		Property("key", run.Ref.Key)

	if run.Err != nil {
		summary.Outcome = "failure"
		summary.Stage = stage.String()
		summary.Error = run.Err.Error()
		rec.Dimension("Stage", stage.String()).
			Count("Failure", 1).
			Property("errorKind", kindName(run.Err))
	}
	rec.Flush()

	if err := o.opts.Events.Emit(ctx, summary); err != nil {
		log.Warn().Err(err).Str("key", run.Ref.Key).Msg("Failed to emit run summary")
	}
}
