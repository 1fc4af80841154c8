package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the subset of the SQS client used by SQSQueue.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is a Queue backed by an Amazon SQS queue (or a compatible endpoint
// such as LocalStack).
type SQSQueue struct {
	client SQSAPI
	url    string
}

// NewSQSQueue wraps the queue at url.
func NewSQSQueue(client SQSAPI, url string) *SQSQueue {
	return &SQSQueue{client: client, url: url}
}

// Publish sends payload as a JSON message body.
func (q *SQSQueue) Publish(ctx context.Context, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	if _, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	}); err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

// Receive long-polls SQS. The wait is rounded down to whole seconds as
// required by the API.
func (q *SQSQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(clampBatch(max)),
		WaitTimeSeconds:     int32(clampWait(wait) / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			ID:       aws.ToString(m.MessageId),
			Body:     []byte(aws.ToString(m.Body)),
			AckToken: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

// Ack deletes the message identified by its receipt handle.
func (q *SQSQueue) Ack(ctx context.Context, token string) error {
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(token),
	}); err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}
