// Package lambdaboot holds the cold-start wiring shared by the Lambda and the
// CLI: AWS clients, environment settings, and the assembled pipeline.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cloudtrail-notifier/internal/events"
	"github.com/fpang/cloudtrail-notifier/internal/filterconfig"
	"github.com/fpang/cloudtrail-notifier/internal/logging"
	"github.com/fpang/cloudtrail-notifier/internal/notify"
	"github.com/fpang/cloudtrail-notifier/internal/pipeline"
)

// Environment variables read at cold start.
const (
	EnvConfigBucket      = "FILTER_CONFIG_BUCKET"
	EnvConfigKey         = "FILTER_CONFIG_KEY"
	EnvConfigParam       = "FILTER_CONFIG_SSM_PARAM"
	EnvScratchDir        = "SCRATCH_DIR"
	EnvNotifyConcurrency = "NOTIFY_CONCURRENCY"
	EnvEventBus          = "TRAIL_EVENT_BUS"
)

// AWSClients holds the SDK clients shared across invocations.
type AWSClients struct {
	Config      aws.Config
	S3          *s3.Client
	SSM         *ssm.Client
	EventBridge *eventbridge.Client
}

// InitAWS loads the default AWS config and creates the shared clients.
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config:      cfg,
		S3:          s3.NewFromConfig(cfg),
		SSM:         ssm.NewFromConfig(cfg),
		EventBridge: eventbridge.NewFromConfig(cfg),
	}, nil
}

// Settings is the function's environment configuration.
type Settings struct {
	ConfigBucket      string
	ConfigKey         string
	ConfigParam       string
	ScratchRoot       string
	NotifyConcurrency int
	EventBus          string
}

// LoadSettings reads Settings from the environment. Either a config bucket
// or an SSM parameter must be set.
func LoadSettings() (Settings, error) {
	s := Settings{
		ConfigBucket: os.Getenv(EnvConfigBucket),
		ConfigKey:    logging.EnvOrDefault(EnvConfigKey, filterconfig.DefaultKey),
		ConfigParam:  os.Getenv(EnvConfigParam),
		ScratchRoot:  logging.EnvOrDefault(EnvScratchDir, os.TempDir()),
		EventBus:     os.Getenv(EnvEventBus),
	}
	if s.ConfigBucket == "" && s.ConfigParam == "" {
		return s, fmt.Errorf("%s or %s is required", EnvConfigBucket, EnvConfigParam)
	}

	s.NotifyConcurrency = notify.DefaultConcurrency
	if v := os.Getenv(EnvNotifyConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return s, fmt.Errorf("%s must be a positive integer, got %q", EnvNotifyConcurrency, v)
		}
		s.NotifyConcurrency = n
	}
	return s, nil
}

// ConfigSource picks the configuration source; SSM wins when both are set.
func (s Settings) ConfigSource(c AWSClients) filterconfig.Source {
	if s.ConfigParam != "" {
		return filterconfig.SSMSource{Client: c.SSM, Name: s.ConfigParam}
	}
	return filterconfig.S3Source{Client: c.S3, Bucket: s.ConfigBucket, Key: s.ConfigKey}
}

// SNSPublishers returns a PublisherFunc that builds one SNS client per region
// and reuses it for the life of the process.
func SNSPublishers(cfg aws.Config) pipeline.PublisherFunc {
	var mu sync.Mutex
	clients := make(map[string]*sns.Client)
	return func(region string) notify.Publisher {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[region]; ok {
			return c
		}
		c := sns.NewFromConfig(cfg, func(o *sns.Options) {
			if region != "" {
				o.Region = region
			}
		})
		clients[region] = c
		return c
	}
}

// NewPipeline assembles the orchestrator and its config loader.
func NewPipeline(c AWSClients, s Settings) (*pipeline.Orchestrator, *filterconfig.Loader) {
	loader := filterconfig.NewLoader(s.ConfigSource(c))
	orch := pipeline.New(pipeline.Options{
		Config:      loader,
		Objects:     c.S3,
		Publisher:   SNSPublishers(c.Config),
		ScratchRoot: s.ScratchRoot,
		Concurrency: s.NotifyConcurrency,
		Events:      events.NewEmitter(c.EventBridge, s.EventBus),
	})
	return orch, loader
}

// StartupLog returns a startup logger pre-filled with the settings.
func StartupLog(name string, initStart time.Time, s Settings, loader *filterconfig.Loader) *logging.StartupLogger {
	sl := logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		Feature("runSummary", s.EventBus != "").
		EventBus("runSummary", s.EventBus).
		Config("scratchRoot", s.ScratchRoot).
		Config("notifyConcurrency", strconv.Itoa(s.NotifyConcurrency)).
		Config("filterConfig", loader.Describe())
	if s.ConfigParam != "" {
		return sl.SSMParam("filterConfig", s.ConfigParam)
	}
	return sl.S3Object("filterConfig", "s3://"+s.ConfigBucket+"/"+s.ConfigKey)
}
