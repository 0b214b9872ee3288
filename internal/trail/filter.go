package trail

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cloudtrail-notifier/internal/stageerr"
)

// Filter applies the predicates as sequential stages: stage i only sees the
// survivors of stage i-1. Relative order is preserved. An empty result is
// not an error; a record missing a field a stage inspects fails the whole
// filter with a ParseError.
func Filter(records []LogRecord, predicates []Predicate) ([]LogRecord, error) {
	survivors := records
	for stage, p := range predicates {
		kept := make([]LogRecord, 0, len(survivors))
		for i, r := range survivors {
			ok, err := p.Match(r)
			if err != nil {
				return nil, stageerr.New(stageerr.ParseError,
					fmt.Sprintf("stage %d (%s) record %d", stage+1, p.Field(), i), err)
			}
			if ok {
				kept = append(kept, r)
			}
		}
		log.Debug().
			Int("stage", stage+1).
			Str("predicate", p.String()).
			Int("in", len(survivors)).
			Int("out", len(kept)).
			Msg("Filter stage applied")
		survivors = kept
	}
	return survivors, nil
}

// Result is the outcome of FilterFile.
type Result struct {
	Total   int
	Matched []LogRecord
}

// FilterFile loads the CloudTrail document at path and filters its records.
func FilterFile(path string, predicates []Predicate) (*Result, error) {
	lg, err := LoadLog(path)
	if err != nil {
		return nil, err
	}
	matched, err := Filter(lg.Records, predicates)
	if err != nil {
		return nil, err
	}
	return &Result{Total: len(lg.Records), Matched: matched}, nil
}
