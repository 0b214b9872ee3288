package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/fpang/cloudtrail-notifier/internal/stageerr"
	"github.com/fpang/cloudtrail-notifier/internal/trail"
)

type fakeSNS struct {
	mu       sync.Mutex
	inputs   []*sns.PublishInput
	failFor  map[string]error // keyed by a substring of the message
	delay    time.Duration
	inFlight int32
	peak     int32
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if cur <= p || atomic.CompareAndSwapInt32(&f.peak, p, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	n := len(f.inputs)
	f.mu.Unlock()

	for sub, err := range f.failFor {
		if strings.Contains(aws.ToString(in.Message), sub) {
			return nil, err
		}
	}
	return &sns.PublishOutput{MessageId: aws.String(fmt.Sprintf("msg-%d", n))}, nil
}

func record(t *testing.T, name string) trail.LogRecord {
	t.Helper()
	rec, err := trail.NewLogRecord([]byte(fmt.Sprintf(
		`{"eventSource":"ec2.amazonaws.com","eventName":%q,"awsRegion":"us-east-1","requestParameters":{"instanceType":"t2.micro", "minCount": 1}}`,
		name)))
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestFormatMessage(t *testing.T) {
	got := FormatMessage(record(t, "RunInstances"))
	want := "Event  : RunInstances\n" +
		"Source : ec2.amazonaws.com\n" +
		`Params : {"instanceType":"t2.micro","minCount":1}` + "\n" +
		"Region : us-east-1\n"
	if got != want {
		t.Errorf("unexpected message:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatMessage_MissingFields(t *testing.T) {
	rec, err := trail.NewLogRecord([]byte(`{"eventName":"ConsoleLogin"}`))
	if err != nil {
		t.Fatal(err)
	}
	want := "Event  : ConsoleLogin\nSource : \nParams : null\nRegion : \n"
	if got := FormatMessage(rec); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestNotifyAll_Empty(t *testing.T) {
	client := &fakeSNS{}
	report, err := New(client, TopicDestination("arn:topic"), 0).NotifyAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if report.Sent != 0 || report.Failed != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(client.inputs) != 0 {
		t.Errorf("expected no dispatch, got %d", len(client.inputs))
	}
}

func TestNotifyAll_OnePerRecord(t *testing.T) {
	client := &fakeSNS{}
	recs := []trail.LogRecord{record(t, "RunInstances"), record(t, "StopInstances"), record(t, "TerminateInstances")}

	report, err := New(client, TopicDestination("arn:topic"), 2).NotifyAll(context.Background(), recs)
	if err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if report.Sent != 3 || len(report.MessageIDs) != 3 {
		t.Errorf("expected 3 sent, got %+v", report)
	}
	if len(client.inputs) != 3 {
		t.Fatalf("expected 3 dispatches, got %d", len(client.inputs))
	}

	seen := map[string]bool{}
	for _, in := range client.inputs {
		if aws.ToString(in.TopicArn) != "arn:topic" || in.TargetArn != nil {
			t.Errorf("expected topic-only input, got topic=%v target=%v", in.TopicArn, in.TargetArn)
		}
		msg := aws.ToString(in.Message)
		for _, line := range []string{"Event  : ", "Source : ec2.amazonaws.com", "Params : {", "Region : us-east-1"} {
			if !strings.Contains(msg, line) {
				t.Errorf("message missing %q:\n%s", line, msg)
			}
		}
		seen[strings.SplitN(strings.TrimPrefix(msg, "Event  : "), "\n", 2)[0]] = true
	}
	for _, name := range []string{"RunInstances", "StopInstances", "TerminateInstances"} {
		if !seen[name] {
			t.Errorf("no notification for %s", name)
		}
	}
}

func TestNotifyAll_Endpoint(t *testing.T) {
	client := &fakeSNS{}
	_, err := New(client, EndpointDestination("arn:endpoint"), 1).NotifyAll(context.Background(), []trail.LogRecord{record(t, "RunInstances")})
	if err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	in := client.inputs[0]
	if aws.ToString(in.TargetArn) != "arn:endpoint" || in.TopicArn != nil {
		t.Errorf("expected endpoint-only input, got topic=%v target=%v", in.TopicArn, in.TargetArn)
	}
}

func TestNotifyAll_PartialFailure(t *testing.T) {
	throttled := errors.New("throttled")
	denied := errors.New("denied")
	client := &fakeSNS{failFor: map[string]error{"Event  : Stop": throttled, "Event  : Delete": denied}}
	recs := []trail.LogRecord{
		record(t, "RunInstances"),
		record(t, "StopInstances"),
		record(t, "TerminateInstances"),
		record(t, "DeleteVolume"),
	}

	report, err := New(client, TopicDestination("arn:topic"), 4).NotifyAll(context.Background(), recs)
	if !stageerr.Is(err, stageerr.NotifyError) {
		t.Fatalf("expected NotifyError, got %v", err)
	}
	if !errors.Is(err, throttled) {
		t.Errorf("expected the lowest-index failure to be wrapped, got %v", err)
	}
	if len(client.inputs) != 4 {
		t.Errorf("expected every dispatch to be attempted, got %d", len(client.inputs))
	}
	if report.Sent != 2 || report.Failed != 2 {
		t.Errorf("expected 2 sent / 2 failed, got %+v", report)
	}
	if report.Failures[0].Index != 1 || report.Failures[0].EventName != "StopInstances" {
		t.Errorf("unexpected first failure %+v", report.Failures[0])
	}
	if report.Failures[1].Index != 3 || !errors.Is(report.Failures[1].Err, denied) {
		t.Errorf("unexpected second failure %+v", report.Failures[1])
	}
}

func TestNotifyAll_ConcurrencyBound(t *testing.T) {
	client := &fakeSNS{delay: 20 * time.Millisecond}
	recs := make([]trail.LogRecord, 12)
	for i := range recs {
		recs[i] = record(t, fmt.Sprintf("Event%d", i))
	}

	if _, err := New(client, TopicDestination("arn:topic"), 3).NotifyAll(context.Background(), recs); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if peak := atomic.LoadInt32(&client.peak); peak > 3 {
		t.Errorf("expected at most 3 in flight, saw %d", peak)
	}
	if peak := atomic.LoadInt32(&client.peak); peak < 2 {
		t.Errorf("expected dispatches to overlap, peak was %d", peak)
	}
}

func TestNotifyAll_WithinBoundAllInFlight(t *testing.T) {
	client := &fakeSNS{delay: 100 * time.Millisecond}
	recs := make([]trail.LogRecord, 5)
	for i := range recs {
		recs[i] = record(t, fmt.Sprintf("Event%d", i))
	}

	if _, err := New(client, TopicDestination("arn:topic"), len(recs)).NotifyAll(context.Background(), recs); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if peak := atomic.LoadInt32(&client.peak); peak != int32(len(recs)) {
		t.Errorf("expected all %d dispatches in flight together, peak was %d", len(recs), peak)
	}
}

func TestDestination_String(t *testing.T) {
	if s := TopicDestination("a").String(); s != "topic:a" {
		t.Errorf("unexpected %s", s)
	}
	if s := EndpointDestination("b").String(); s != "endpoint:b" {
		t.Errorf("unexpected %s", s)
	}
}
