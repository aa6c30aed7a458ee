package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSConfig controls SQSStore.
type SQSConfig struct {
	// Required: fully qualified SQS queue URL
	QueueURL string
	// Optional: AWS region; falls back to default chain if empty
	Region string
	// FIFO mode groups messages by session id and deduplicates per turn.
	FIFO bool
}

// SQSSender is the subset of the SQS client used by SQSStore.
type SQSSender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSStore publishes snapshots to a queue consumed by the storage tier. It
// assigns ids client-side and cannot read records back.
type SQSStore struct {
	client SQSSender
	cfg    SQSConfig
}

var _ Store = (*SQSStore)(nil)

// NewSQSStore builds a store using the default AWS config chain.
func NewSQSStore(ctx context.Context, cfg SQSConfig) (*SQSStore, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("QueueURL is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewSQSStoreFromClient(sqs.NewFromConfig(awscfg), cfg), nil
}

// NewSQSStoreFromClient constructs the store from an existing client.
func NewSQSStoreFromClient(client SQSSender, cfg SQSConfig) *SQSStore {
	return &SQSStore{client: client, cfg: cfg}
}

// Save implements Store.
func (s *SQSStore) Save(ctx context.Context, rec *Record) (string, error) {
	cp := cloneRecord(rec)
	if cp.ID == "" {
		cp.ID = newID()
	}
	body, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.cfg.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"SessionID": {DataType: aws.String("String"), StringValue: aws.String(cp.ID)},
			"Mode":      {DataType: aws.String("String"), StringValue: aws.String(cp.Mode)},
			"Turn":      {DataType: aws.String("Number"), StringValue: aws.String(strconv.Itoa(cp.Turn))},
		},
	}
	if s.cfg.FIFO {
		input.MessageGroupId = aws.String(cp.ID)
		input.MessageDeduplicationId = aws.String(cp.ID + "-" + strconv.Itoa(cp.Turn))
	}
	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return "", fmt.Errorf("sqs SendMessage: %w", err)
	}
	return cp.ID, nil
}
