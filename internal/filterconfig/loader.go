package filterconfig

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cloudtrail-notifier/internal/s3util"
	"github.com/fpang/cloudtrail-notifier/internal/stageerr"
)

// DefaultKey is the object name used when FILTER_CONFIG_KEY is unset.
const DefaultKey = "filter_config.json"

// maxConfigBytes bounds the configuration document read from S3.
const maxConfigBytes = 1 << 20

// Source fetches the raw configuration document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	Describe() string
}

// S3Source reads the configuration from an S3 object.
type S3Source struct {
	Client s3util.ObjectGetter
	Bucket string
	Key    string
}

func (s S3Source) Fetch(ctx context.Context) ([]byte, error) {
	return s3util.ReadObject(ctx, s.Client, s.Bucket, s.Key, maxConfigBytes)
}

func (s S3Source) Describe() string {
	return "s3://" + s.Bucket + "/" + s.Key
}

// ParameterGetter is the subset of *ssm.Client used by SSMSource.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads the configuration from an SSM parameter (String or
// SecureString).
type SSMSource struct {
	Client ParameterGetter
	Name   string
}

func (s SSMSource) Fetch(ctx context.Context) ([]byte, error) {
	result, err := s.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &s.Name,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("SSM GetParameter: %w", err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return nil, fmt.Errorf("SSM parameter %s has no value", s.Name)
	}
	return []byte(*result.Parameter.Value), nil
}

func (s SSMSource) Describe() string {
	return "ssm:" + s.Name
}

// Loader fetches the configuration on first use and caches it for the life
// of the process. Only a successful load is cached; a failed load is tried
// again on the next call. Safe for concurrent use.
type Loader struct {
	source Source

	mu      sync.Mutex
	cfg     *FilterConfig
	fetches int
}

// NewLoader returns a Loader reading from src.
func NewLoader(src Source) *Loader {
	return &Loader{source: src}
}

// Load returns the cached configuration, fetching it if needed.
func (l *Loader) Load(ctx context.Context) (*FilterConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg != nil {
		return l.cfg, nil
	}

	start := time.Now()
	l.fetches++
	data, err := l.source.Fetch(ctx)
	if err != nil {
		return nil, stageerr.New(stageerr.ConfigUnavailable, "fetch "+l.source.Describe(), err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("source", l.source.Describe()).
		Str("eventSource", cfg.Source).
		Str("eventName", cfg.EventName).
		Int("extraFilters", len(cfg.Filters)).
		Str("snsRegion", cfg.SNS.Region).
		Str("topicArn", cfg.SNS.TopicARN).
		Str("endpointArn", cfg.SNS.EndpointARN).
		Dur("elapsed", time.Since(start)).
		Msg("Filter configuration loaded")

	l.cfg = cfg
	return cfg, nil
}

// Fetches reports how many times the source has been read.
func (l *Loader) Fetches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fetches
}

// Describe names the underlying source, for startup logging.
func (l *Loader) Describe() string {
	return l.source.Describe()
}
