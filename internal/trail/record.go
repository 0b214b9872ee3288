// Package trail parses CloudTrail log documents and selects the records that
// match a chain of field predicates.
//
// A CloudTrail delivery file is a single JSON object with a "Records" array.
// Records are kept as raw JSON so that fields other than the four the
// notifier cares about stay addressable by predicates, and so that
// requestParameters can be re-emitted with its original key order.
package trail

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cloudtrail-notifier/internal/stageerr"
)

// Well-known CloudTrail field names.
const (
	FieldEventSource       = "eventSource"
	FieldEventName         = "eventName"
	FieldAWSRegion         = "awsRegion"
	FieldRequestParameters = "requestParameters"
)

// LogRecord is one CloudTrail event. Fields are resolved lazily, so a record
// that is never inspected for a field never fails on it.
type LogRecord struct {
	raw    json.RawMessage
	fields map[string]json.RawMessage
}

// NewLogRecord decodes a single record. The record must be a JSON object.
func NewLogRecord(data []byte) (LogRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return LogRecord{}, err
	}
	if fields == nil {
		return LogRecord{}, fmt.Errorf("record is null")
	}
	return LogRecord{raw: json.RawMessage(data), fields: fields}, nil
}

// Field returns the scalar value at a dot-separated path such as
// "userIdentity.type". Strings are returned unquoted; numbers and booleans
// as their JSON text. Missing, null, and non-scalar values are errors.
func (r LogRecord) Field(path string) (string, error) {
	parts := strings.Split(path, ".")
	fields := r.fields
	for i, part := range parts {
		v, ok := fields[part]
		if !ok {
			return "", fmt.Errorf("field %q not present", path)
		}
		v = bytes.TrimSpace(v)
		if i < len(parts)-1 {
			fields = nil
			if err := json.Unmarshal(v, &fields); err != nil || fields == nil {
				return "", fmt.Errorf("field %q: %q is not an object", path, part)
			}
			continue
		}
		return scalar(path, v)
	}
	return "", fmt.Errorf("field %q not present", path)
}

func scalar(path string, v json.RawMessage) (string, error) {
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", fmt.Errorf("field %q is null", path)
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("field %q: %w", path, err)
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("field %q is not a scalar", path)
	default:
		return string(v), nil
	}
}

// EventSource returns the eventSource field, e.g. "ec2.amazonaws.com".
func (r LogRecord) EventSource() (string, error) { return r.Field(FieldEventSource) }

// EventName returns the eventName field, e.g. "RunInstances".
func (r LogRecord) EventName() (string, error) { return r.Field(FieldEventName) }

// AWSRegion returns the awsRegion field.
func (r LogRecord) AWSRegion() (string, error) { return r.Field(FieldAWSRegion) }

// RequestParameters returns the requestParameters value as compact JSON,
// preserving key order. An absent value renders as "null".
func (r LogRecord) RequestParameters() string {
	v, ok := r.fields[FieldRequestParameters]
	if !ok {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

// Raw returns the record exactly as it appeared in the log document.
func (r LogRecord) Raw() json.RawMessage {
	return r.raw
}

// Log is a decoded CloudTrail delivery file.
type Log struct {
	Records []LogRecord
}

type logDocument struct {
	Records []json.RawMessage `json:"Records"`
}

// ParseLog decodes a CloudTrail document held in memory.
func ParseLog(data []byte) (*Log, error) {
	var doc logDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, stageerr.New(stageerr.ParseError, "decode log document", err)
	}
	return fromDocument(doc)
}

// LoadLog reads and decodes the CloudTrail document at path. The whole file
// must be one JSON document; trailing content is a ParseError.
func LoadLog(path string) (*Log, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stageerr.New(stageerr.ParseError, "read "+path, err)
	}
	lg, err := ParseLog(data)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Int("records", len(lg.Records)).Msg("Log document parsed")
	return lg, nil
}

func fromDocument(doc logDocument) (*Log, error) {
	if doc.Records == nil {
		return nil, stageerr.Newf(stageerr.ParseError, "log document has no Records array")
	}
	lg := &Log{Records: make([]LogRecord, 0, len(doc.Records))}
	for i, raw := range doc.Records {
		rec, err := NewLogRecord(raw)
		if err != nil {
			return nil, stageerr.New(stageerr.ParseError, fmt.Sprintf("record %d", i), err)
		}
		lg.Records = append(lg.Records, rec)
	}
	return lg, nil
}
