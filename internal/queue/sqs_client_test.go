package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type fakeSender struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSClientSendEncodesReportID(t *testing.T) {
	sender := &fakeSender{}
	client := &SQSClient{client: sender, queueURL: "https://sqs.example/queue"}

	if err := client.Send(context.Background(), Message{ReportID: "rep-1", RequestID: "req-1", Version: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if aws.ToString(sender.input.QueueUrl) != "https://sqs.example/queue" {
		t.Fatalf("unexpected queue url: %s", aws.ToString(sender.input.QueueUrl))
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(aws.ToString(sender.input.MessageBody)), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["reportId"] != "rep-1" || body["requestId"] != "req-1" {
		t.Fatalf("unexpected body: %v", body)
	}
	if got := aws.ToString(sender.input.MessageAttributes["reportId"].StringValue); got != "rep-1" {
		t.Fatalf("unexpected reportId attribute: %q", got)
	}
}

func TestSQSClientSendWrapsError(t *testing.T) {
	client := &SQSClient{client: &fakeSender{err: errors.New("throttled")}, queueURL: "q"}
	err := client.Send(context.Background(), Message{ReportID: "rep-1"})
	if err == nil || !strings.Contains(err.Error(), "sqs send message") {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

func TestNewSQSClientRequiresURL(t *testing.T) {
	if _, err := NewSQSClient(context.Background(), "  ", ""); err == nil {
		t.Fatalf("expected error for empty queue url")
	}
}
