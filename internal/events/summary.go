// Package events publishes a per-run summary to EventBridge so downstream
// rules can react to pipeline outcomes without scraping logs.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

const (
	source     = "cloudtrail-notifier"
	detailType = "TrailFilterRun"
)

// RunSummary is the event detail.
type RunSummary struct {
	Bucket     string `json:"bucket"`
	Key        string `json:"key"`
	RequestID  string `json:"requestId,omitempty"`
	Outcome    string `json:"outcome"`
	Stage      string `json:"stage,omitempty"`
	Error      string `json:"error,omitempty"`
	Records    int    `json:"records"`
	Matched    int    `json:"matched"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"durationMs"`
}

// EventPutter is the subset of *eventbridge.Client used by Emitter.
type EventPutter interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Emitter sends RunSummary events to one bus.
type Emitter struct {
	client EventPutter
	bus    string
}

// NewEmitter returns an Emitter for bus, or nil when bus is empty. A nil
// Emitter's Emit is a no-op.
func NewEmitter(client EventPutter, bus string) *Emitter {
	if bus == "" || client == nil {
		return nil
	}
	return &Emitter{client: client, bus: bus}
}

// Emit publishes the summary.
func (e *Emitter) Emit(ctx context.Context, summary RunSummary) error {
	if e == nil {
		return nil
	}
	detail, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal RunSummary: %w", err)
	}

	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{
			{
				EventBusName: aws.String(e.bus),
				Source:       aws.String(source),
				DetailType:   aws.String(detailType),
				Detail:       aws.String(string(detail)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("bus", e.bus).Str("key", summary.Key).Str("outcome", summary.Outcome).Msg("Run summary emitted")
	return nil
}
