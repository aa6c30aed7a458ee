package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type recordingSender struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (r *recordingSender) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	r.inputs = append(r.inputs, in)
	if r.err != nil {
		return nil, r.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSStore_FIFOGrouping(t *testing.T) {
	sender := &recordingSender{}
	s := NewSQSStoreFromClient(sender, SQSConfig{QueueURL: "https://sqs.local/q.fifo", FIFO: true})

	id, err := s.Save(context.Background(), sampleRecord(""))
	if err != nil || id == "" {
		t.Fatalf("Save: id=%q err=%v", id, err)
	}
	in := sender.inputs[0]
	if aws.ToString(in.MessageGroupId) != id {
		t.Fatalf("group id=%q want %q", aws.ToString(in.MessageGroupId), id)
	}
	if aws.ToString(in.MessageDeduplicationId) != id+"-1" {
		t.Fatalf("dedup id=%q", aws.ToString(in.MessageDeduplicationId))
	}
	var body Record
	if err := json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.ID != id || body.Summary != "why are sales down" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestSQSStore_SendError(t *testing.T) {
	s := NewSQSStoreFromClient(&recordingSender{err: errors.New("throttled")}, SQSConfig{QueueURL: "q"})
	if _, err := s.Save(context.Background(), sampleRecord("x")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSQSStore_Integration(t *testing.T) {
	url := os.Getenv("SQS_QUEUE_URL")
	if url == "" {
		t.Skip("SQS_QUEUE_URL not set; skipping SQS integration test")
	}
	s, err := NewSQSStore(context.Background(), SQSConfig{QueueURL: url})
	if err != nil {
		t.Fatalf("NewSQSStore: %v", err)
	}
	if _, err := s.Save(context.Background(), sampleRecord("")); err != nil {
		t.Fatalf("Save: %v", err)
	}
}
