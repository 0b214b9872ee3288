// Package notify formats matched CloudTrail records as notification messages
// and publishes them to SNS in parallel.
package notify

import (
	"strings"

	"github.com/fpang/cloudtrail-notifier/internal/trail"
)

// FormatMessage renders the four-line notification body for r:
//
//	Event  : RunInstances
//	Source : ec2.amazonaws.com
//	Params : {"instanceType":"t2.micro"}
//	Region : us-east-1
//
// Fields absent from the record render as empty strings; absent
// requestParameters renders as null.
func FormatMessage(r trail.LogRecord) string {
	var b strings.Builder
	b.WriteString("Event  : ")
	b.WriteString(fieldOrEmpty(r, trail.FieldEventName))
	b.WriteString("\nSource : ")
	b.WriteString(fieldOrEmpty(r, trail.FieldEventSource))
	b.WriteString("\nParams : ")
	b.WriteString(r.RequestParameters())
	b.WriteString("\nRegion : ")
	b.WriteString(fieldOrEmpty(r, trail.FieldAWSRegion))
	b.WriteString("\n")
	return b.String()
}

func fieldOrEmpty(r trail.LogRecord, field string) string {
	v, err := r.Field(field)
	if err != nil {
		return ""
	}
	return v
}
