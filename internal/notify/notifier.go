package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cloudtrail-notifier/internal/stageerr"
	"github.com/fpang/cloudtrail-notifier/internal/trail"
)

// DefaultConcurrency caps in-flight Publish calls when none is configured.
const DefaultConcurrency = 10

// Publisher is the subset of *sns.Client used by Notifier.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Compile-time interface check.
var _ Publisher = (*sns.Client)(nil)

// Destination is either a topic or a direct endpoint, never both.
type Destination struct {
	TopicARN  string
	TargetARN string
}

// TopicDestination publishes to an SNS topic.
func TopicDestination(arn string) Destination { return Destination{TopicARN: arn} }

// EndpointDestination publishes directly to a platform endpoint.
func EndpointDestination(arn string) Destination { return Destination{TargetARN: arn} }

func (d Destination) String() string {
	if d.TopicARN != "" {
		return "topic:" + d.TopicARN
	}
	return "endpoint:" + d.TargetARN
}

func (d Destination) input(msg string) *sns.PublishInput {
	in := &sns.PublishInput{Message: aws.String(msg)}
	if d.TopicARN != "" {
		in.TopicArn = aws.String(d.TopicARN)
	} else {
		in.TargetArn = aws.String(d.TargetARN)
	}
	return in
}

// Failure describes one dispatch that did not succeed.
type Failure struct {
	Index     int
	EventName string
	Err       error
}

// Report is the settled outcome of a NotifyAll batch.
type Report struct {
	Sent       int
	Failed     int
	Failures   []Failure
	MessageIDs []string
}

// Notifier publishes one message per record to a single destination.
type Notifier struct {
	client      Publisher
	dest        Destination
	concurrency int
}

// New creates a Notifier. concurrency <= 0 uses DefaultConcurrency.
func New(client Publisher, dest Destination, concurrency int) *Notifier {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Notifier{client: client, dest: dest, concurrency: concurrency}
}

// Destination returns where this Notifier publishes.
func (n *Notifier) Destination() Destination {
	return n.dest
}

// NotifyAll formats and publishes a message for every record without
// waiting on earlier dispatches, up to the concurrency bound: once that many
// are in flight, the next dispatch starts when one finishes. It then waits
// for all of them to settle. A failed dispatch does not cancel the others.
// If any failed, the returned error is a NotifyError wrapping the failure
// with the lowest record index; the Report lists every failure either way.
func (n *Notifier) NotifyAll(ctx context.Context, records []trail.LogRecord) (*Report, error) {
	report := &Report{}
	if len(records) == 0 {
		return report, nil
	}

	start := time.Now()
	type result struct {
		messageID string
		err       error
	}
	results := make([]result, len(records))

	var wg sync.WaitGroup
	sem := make(chan struct{}, n.concurrency)

	for i, rec := range records {
		msg := FormatMessage(rec)
		wg.Add(1)
		go func(idx int, msg string) {
			defer wg.Done()
			sem <- struct{}{}        // Acquire semaphore
			defer func() { <-sem }() // Release semaphore

			log.Debug().Int("index", idx).Str("destination", n.dest.String()).Msg("Publishing notification")
			out, err := n.client.Publish(ctx, n.dest.input(msg))
			if err != nil {
				results[idx].err = err
				return
			}
			results[idx].messageID = aws.ToString(out.MessageId)
		}(i, msg)
	}
	wg.Wait()

	for i, r := range results {
		if r.err != nil {
			name, _ := records[i].EventName()
			report.Failures = append(report.Failures, Failure{Index: i, EventName: name, Err: r.err})
			log.Warn().Err(r.err).Int("index", i).Str("eventName", name).Msg("Notification failed")
			continue
		}
		report.MessageIDs = append(report.MessageIDs, r.messageID)
	}
	report.Sent = len(report.MessageIDs)
	report.Failed = len(report.Failures)

	log.Info().
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Str("destination", n.dest.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Notifications dispatched")

	if report.Failed > 0 {
		first := report.Failures[0]
		return report, stageerr.New(stageerr.NotifyError,
			fmt.Sprintf("%d of %d notifications failed (first: record %d)", report.Failed, len(records), first.Index),
			first.Err)
	}
	return report, nil
}
