package events

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"catalogd/services/catalog/internal/model"
	"catalogd/services/catalog/internal/store"
)

const (
	bridgeWaitSeconds = 10
	bridgeBatchSize   = 10
	bridgeSweepEvery  = 10 * time.Second
)

type queueMessage struct {
	Body          string
	ReceiptHandle string
}

// queueReceiver is the slice of SQS the bridge needs; tests substitute a
// fake.
type queueReceiver interface {
	Receive(ctx context.Context, queueURL string) ([]queueMessage, error)
	Delete(ctx context.Context, queueURL, receiptHandle string) error
}

// Bridge long-polls the change queues of object-store connectors that carry
// a queue_url config key and feeds each message through the pipeline. It
// covers sources that can only deliver change events into a queue, not to a
// public webhook.
type Bridge struct {
	store    store.Gateway
	pipeline *Pipeline
	logger   *log.Logger
	open     func(ctx context.Context, conn model.Connector) (queueReceiver, error)

	mu        sync.Mutex
	receivers map[string]queueReceiver
}

func NewBridge(gw store.Gateway, pipeline *Pipeline, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{
		store:     gw,
		pipeline:  pipeline,
		logger:    logger,
		open:      openSQSReceiver,
		receivers: map[string]queueReceiver{},
	}
}

// Run polls until ctx cancels. Connectors are re-read every sweep so queue
// configuration changes take effect without a restart.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(bridgeSweepEvery)
	defer ticker.Stop()

	for {
		b.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (b *Bridge) sweep(ctx context.Context) {
	connectors, err := b.store.LoadConnectors(ctx)
	if err != nil {
		b.logger.Printf("WARN bridge: load connectors: %v", err)
		return
	}

	for _, conn := range connectors {
		if conn.Type != model.TypeObjectStore || !conn.Enabled {
			continue
		}
		queueURL := conn.ConfigString("queue_url", "queueUrl")
		if queueURL == "" {
			continue
		}
		if err := b.drain(ctx, conn, queueURL); err != nil {
			b.logger.Printf("WARN bridge: connector %s queue %s: %v", conn.ID, queueURL, err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// drain handles one receive batch for one connector. A message that fails
// with a transient processing error stays on the queue for redelivery;
// malformed and unroutable messages are deleted so they cannot wedge the
// queue.
func (b *Bridge) drain(ctx context.Context, conn model.Connector, queueURL string) error {
	receiver, err := b.receiver(ctx, conn)
	if err != nil {
		return err
	}

	messages, err := receiver.Receive(ctx, queueURL)
	if err != nil {
		b.forget(conn.ID)
		return err
	}

	for _, msg := range messages {
		applied, err := b.pipeline.Process(ctx, conn.ID, []byte(msg.Body))
		switch {
		case err == nil:
			b.logger.Printf("INFO bridge: connector %s applied %d change(s)", conn.ID, applied)
		case errors.Is(err, ErrMalformedEvent), errors.Is(err, ErrUnknownTarget):
			b.logger.Printf("WARN bridge: connector %s dropping message: %v", conn.ID, err)
		default:
			b.logger.Printf("WARN bridge: connector %s processing failed, leaving message: %v", conn.ID, err)
			continue
		}
		if err := receiver.Delete(ctx, queueURL, msg.ReceiptHandle); err != nil {
			b.logger.Printf("WARN bridge: connector %s delete message: %v", conn.ID, err)
		}
	}
	return nil
}

func (b *Bridge) receiver(ctx context.Context, conn model.Connector) (queueReceiver, error) {
	b.mu.Lock()
	if r, ok := b.receivers[conn.ID]; ok {
		b.mu.Unlock()
		return r, nil
	}
	b.mu.Unlock()

	r, err := b.open(ctx, conn)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.receivers[conn.ID] = r
	b.mu.Unlock()
	return r, nil
}

func (b *Bridge) forget(connectorID string) {
	b.mu.Lock()
	delete(b.receivers, connectorID)
	b.mu.Unlock()
}

type sqsReceiver struct {
	api *sqs.Client
}

func openSQSReceiver(ctx context.Context, conn model.Connector) (queueReceiver, error) {
	accessKey := conn.ConfigString("access_key_id", "accessKeyId")
	secretKey := conn.ConfigString("secret_access_key", "secretAccessKey")
	region := conn.ConfigString("region")
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if accessKey != "" && secretKey != "" {
		loadOpts = append(loadOpts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return &sqsReceiver{api: sqs.NewFromConfig(cfg)}, nil
}

func (r *sqsReceiver) Receive(ctx context.Context, queueURL string) ([]queueMessage, error) {
	resp, err := r.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: bridgeBatchSize,
		WaitTimeSeconds:     bridgeWaitSeconds,
	})
	if err != nil {
		return nil, err
	}

	out := make([]queueMessage, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		if msg.Body == nil || msg.ReceiptHandle == nil {
			continue
		}
		out = append(out, queueMessage{Body: *msg.Body, ReceiptHandle: *msg.ReceiptHandle})
	}
	return out, nil
}

func (r *sqsReceiver) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := r.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}
