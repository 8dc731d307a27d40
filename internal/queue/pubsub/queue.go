// Package pubsub implements a workflow run queue on Google Cloud Pub/Sub so
// several service instances can share one backlog of runs.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// Config names the topic runs are published to and the subscription workers pull from.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
	// MaxOutstanding caps unacknowledged deliveries held by this instance.
	MaxOutstanding int
}

// Queue is a leadgen.RunQueue backed by a topic and a pull subscription.
type Queue struct {
	client     *pubsub.Client
	publisher  *pubsub.Publisher
	subscriber *pubsub.Subscriber
	logger     *zap.Logger

	deliveries chan leadgen.RunRequest
	startOnce  sync.Once
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once

	// failed is closed when Receive ends on its own; recvErr says why.
	failed  chan struct{}
	recvErr error
}

func fullTopicName(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

func fullSubscriptionName(projectID, subID string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
}

// New checks that the topic is active and returns a Queue on top of client.
func New(ctx context.Context, client *pubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if cfg.ProjectID == "" || cfg.TopicID == "" || cfg.SubscriptionID == "" {
		return nil, errors.New("project, topic and subscription are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	topicName := fullTopicName(cfg.ProjectID, cfg.TopicID)
	topic, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topicName})
	if err != nil {
		return nil, fmt.Errorf("get pubsub topic %q: %w", cfg.TopicID, err)
	}
	if topic.GetState() != pubsubpb.Topic_ACTIVE && topic.GetState() != pubsubpb.Topic_STATE_UNSPECIFIED {
		return nil, fmt.Errorf("pubsub topic %q is not active", cfg.TopicID)
	}

	sub := client.Subscriber(fullSubscriptionName(cfg.ProjectID, cfg.SubscriptionID))
	if cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	}
	return &Queue{
		client:     client,
		publisher:  client.Publisher(topicName),
		subscriber: sub,
		logger:     logger.Named("run_queue"),
		deliveries: make(chan leadgen.RunRequest),
		done:       make(chan struct{}),
		failed:     make(chan struct{}),
	}, nil
}

// Enqueue publishes req and waits for the server to accept it.
func (q *Queue) Enqueue(ctx context.Context, req leadgen.RunRequest) error {
	select {
	case <-q.done:
		return leadgen.ErrQueueClosed
	default:
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":          req.RunID,
			"organization_id": req.OrganizationID,
		},
	}
	if _, err := q.publisher.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish run request: %w", err)
	}
	return nil
}

// Dequeue blocks until a run is delivered. The message is acknowledged once a
// caller takes it. When the subscription fails for good the error wraps both
// leadgen.ErrQueueClosed and the receive error.
func (q *Queue) Dequeue(ctx context.Context) (leadgen.RunRequest, error) {
	q.startOnce.Do(q.startReceiving)
	select {
	case <-ctx.Done():
		return leadgen.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return leadgen.RunRequest{}, leadgen.ErrQueueClosed
	case <-q.failed:
		return leadgen.RunRequest{}, fmt.Errorf("run subscription stopped: %w", errors.Join(leadgen.ErrQueueClosed, q.recvErr))
	case req := <-q.deliveries:
		return req, nil
	}
}

func (q *Queue) startReceiving() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go func() {
		err := q.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			var req leadgen.RunRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil || req.RunID == "" {
				q.logger.Warn("dropping malformed run message", zap.String("message_id", msg.ID), zap.Error(err))
				msg.Ack()
				return
			}
			select {
			case q.deliveries <- req:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
			}
		})
		select {
		case <-q.done:
			return
		default:
		}
		if err == nil {
			err = errors.New("receive returned without error")
		}
		q.logger.Error("run subscription stopped", zap.Error(err))
		q.recvErr = err
		close(q.failed)
	}()
}

// Close stops receiving, flushes the publisher and closes the client.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		q.startOnce.Do(func() {})
		if q.cancel != nil {
			q.cancel()
		}
		q.publisher.Stop()
		if cerr := q.client.Close(); cerr != nil {
			err = fmt.Errorf("close pubsub client: %w", cerr)
		}
	})
	return err
}
