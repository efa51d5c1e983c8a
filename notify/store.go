package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/jackc/pgx/v5/pgconn"

	"engageflow/event"
)

type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Store records notifications in the notifications table and, when a topic
// is configured, fans them out over SNS for push delivery.
type Store struct {
	db       Execer
	sns      SNSPublisher
	topicARN string
}

func NewStore(db Execer) *Store {
	return &Store{db: db}
}

func (s *Store) WithSNS(client SNSPublisher, topicARN string) *Store {
	s.sns = client
	s.topicARN = topicARN
	return s
}

func (s *Store) Notify(ctx context.Context, n event.Notice) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
        INSERT INTO notifications (user_id, type, title, message, priority, payload)
        VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
		n.UserID, n.Kind, n.Title, n.Message, string(n.Priority), payload); err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}

	if s.sns == nil || s.topicARN == "" {
		return nil
	}
	msg, err := json.Marshal(map[string]any{
		"user_id":  n.UserID,
		"type":     n.Kind,
		"title":    n.Title,
		"message":  n.Message,
		"priority": n.Priority,
		"payload":  n.Payload,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal push: %w", err)
	}
	_, err = s.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(msg)),
		Subject:  aws.String(n.Title),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"user_id":  {DataType: aws.String("String"), StringValue: aws.String(n.UserID)},
			"priority": {DataType: aws.String("String"), StringValue: aws.String(string(n.Priority))},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: publish push: %w", err)
	}
	return nil
}
