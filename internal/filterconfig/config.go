// Package filterconfig loads the JSON filter configuration that decides which
// CloudTrail records produce notifications and where those notifications go.
//
// The document is read once per process from S3 (or SSM Parameter Store)
// and cached; changing it requires a new Lambda execution environment.
//
//	{
//	  "source": "ec2",
//	  "regexp": "RunInstances|TerminateInstances",
//	  "sns": {"region": "us-east-1", "topicARN": "arn:aws:sns:..."},
//	  "filters": [{"field": "userIdentity.type", "match": "exact", "pattern": "Root"}]
//	}
package filterconfig

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fpang/cloudtrail-notifier/internal/stageerr"
	"github.com/fpang/cloudtrail-notifier/internal/trail"
)

// SNSConfig names the notification destination. TopicARN takes precedence
// over EndpointARN when both are set.
type SNSConfig struct {
	Region      string `json:"region"`
	TopicARN    string `json:"topicARN"`
	EndpointARN string `json:"endpointARN,omitempty"`
}

// PredicateConfig is an extra filter stage applied after source and regexp.
type PredicateConfig struct {
	Field   string `json:"field"`
	Match   string `json:"match,omitempty"`
	Pattern string `json:"pattern"`
}

// FilterConfig is the parsed configuration document. It is read-only once
// returned by Parse.
type FilterConfig struct {
	// Source is matched against each record's eventSource.
	Source string `json:"source"`
	// EventName is matched against each surviving record's eventName.
	EventName string            `json:"regexp"`
	SNS       SNSConfig         `json:"sns"`
	Filters   []PredicateConfig `json:"filters,omitempty"`

	predicates []trail.Predicate
}

// Parse decodes and validates a configuration document. Any problem is a
// ConfigUnavailable error.
func Parse(data []byte) (*FilterConfig, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, stageerr.Newf(stageerr.ConfigUnavailable, "configuration document is empty")
	}

	var cfg FilterConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, stageerr.New(stageerr.ConfigUnavailable, "decode configuration", err)
	}

	if cfg.SNS.TopicARN == "" && cfg.SNS.EndpointARN == "" {
		return nil, stageerr.Newf(stageerr.ConfigUnavailable, "sns.topicARN or sns.endpointARN is required")
	}

	src, err := trail.RegexPredicate(trail.FieldEventSource, cfg.Source)
	if err != nil {
		return nil, stageerr.New(stageerr.ConfigUnavailable, "source", err)
	}
	name, err := trail.RegexPredicate(trail.FieldEventName, cfg.EventName)
	if err != nil {
		return nil, stageerr.New(stageerr.ConfigUnavailable, "regexp", err)
	}
	cfg.predicates = []trail.Predicate{src, name}

	for i, f := range cfg.Filters {
		kind, err := trail.ParseMatchKind(f.Match)
		if err != nil {
			return nil, stageerr.New(stageerr.ConfigUnavailable, fmt.Sprintf("filters[%d]", i), err)
		}
		p, err := trail.NewPredicate(f.Field, kind, f.Pattern)
		if err != nil {
			return nil, stageerr.New(stageerr.ConfigUnavailable, fmt.Sprintf("filters[%d]", i), err)
		}
		cfg.predicates = append(cfg.predicates, p)
	}

	return &cfg, nil
}

// Predicates returns the filter stages in application order: eventSource,
// eventName, then any extra filters.
func (c *FilterConfig) Predicates() []trail.Predicate {
	out := make([]trail.Predicate, len(c.predicates))
	copy(out, c.predicates)
	return out
}

// UsesTopic reports whether notifications go to a topic rather than a
// direct endpoint.
func (c *FilterConfig) UsesTopic() bool {
	return c.SNS.TopicARN != ""
}
