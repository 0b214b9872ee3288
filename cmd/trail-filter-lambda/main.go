// Package main is the Lambda entry point for the CloudTrail notifier.
//
// It is triggered by S3 ObjectCreated notifications on the CloudTrail
// bucket. Each invocation downloads the new .json.gz log, filters its
// records against the cached filter configuration, and publishes one SNS
// message per matching record.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cloudtrail-notifier/internal/lambdaboot"
	"github.com/fpang/cloudtrail-notifier/internal/logging"
	"github.com/fpang/cloudtrail-notifier/internal/pipeline"
	"github.com/fpang/cloudtrail-notifier/internal/s3util"
	"github.com/fpang/cloudtrail-notifier/internal/stageerr"
)

type runner interface {
	Execute(ctx context.Context, ref s3util.ObjectRef, token string) (*pipeline.Run, error)
}

var (
	orch      runner
	coldStart = true
)

func main() {
	initStart := time.Now()
	logging.Init()

	clients, err := lambdaboot.InitAWS(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	settings, err := lambdaboot.LoadSettings()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid environment")
	}

	o, loader := lambdaboot.NewPipeline(clients, settings)
	orch = o

	lambdaboot.StartupLog("trail-filter-lambda", initStart, settings, loader).
		Build(commitHash, buildTime).
		Log()

	lambda.Start(handler)
}

func handler(ctx context.Context, evt events.S3Event) (string, error) {
	return handle(ctx, orch, evt)
}

func handle(ctx context.Context, r runner, evt events.S3Event) (string, error) {
	var requestID string
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		requestID = lc.AwsRequestID
	}
	logger := log.With().Str("requestId", requestID).Logger()

	if coldStart {
		logger.Info().Msg("Cold start invocation")
		coldStart = false
	}

	ref, err := objectRef(evt)
	if err != nil {
		logger.Error().Err(err).Msg("Rejected trigger event")
		return "", err
	}
	if extra := len(evt.Records) - 1; extra > 0 {
		logger.Warn().Int("ignored", extra).Str("key", ref.Key).Msg("Event carries more than one record; only the first is processed")
	}

	if _, err := r.Execute(ctx, ref, requestID); err != nil {
		return "", err
	}
	return "OK", nil
}

// objectRef extracts the bucket and key of the first record. The runtime
// decodes the URL-encoded key into URLDecodedKey while unmarshaling.
func objectRef(evt events.S3Event) (s3util.ObjectRef, error) {
	if len(evt.Records) == 0 {
		return s3util.ObjectRef{}, stageerr.New(stageerr.InvalidEvent, "event has no records", nil)
	}
	entity := evt.Records[0].S3
	key := entity.Object.URLDecodedKey
	if key == "" {
		key = entity.Object.Key
	}
	if entity.Bucket.Name == "" || key == "" {
		return s3util.ObjectRef{}, stageerr.New(stageerr.InvalidEvent, "record is missing bucket or key", nil)
	}
	return s3util.ObjectRef{Bucket: entity.Bucket.Name, Key: key}, nil
}
