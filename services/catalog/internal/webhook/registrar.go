package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"catalogd/services/catalog/internal/model"
)

// Registrar subscribes a callback endpoint to a connector's change
// notifications. It returns the provider's subscription identifier.
type Registrar interface {
	Register(ctx context.Context, conn model.Connector, endpoint string) (string, error)
}

// SNSRegistrar subscribes the endpoint to the SNS topic named in the
// connector's sns_topic_arn config key.
type SNSRegistrar struct {
	open func(ctx context.Context, conn model.Connector) (snsSubscriber, error)
}

type snsSubscriber interface {
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
}

func NewSNSRegistrar() *SNSRegistrar {
	return &SNSRegistrar{open: openSNSClient}
}

func (r *SNSRegistrar) Register(ctx context.Context, conn model.Connector, endpoint string) (string, error) {
	topicARN := conn.ConfigString("sns_topic_arn", "snsTopicArn")
	if topicARN == "" {
		return "", fmt.Errorf("connector %s has no sns_topic_arn", conn.ID)
	}

	protocol := "https"
	if strings.HasPrefix(endpoint, "http://") {
		protocol = "http"
	}

	client, err := r.open(ctx, conn)
	if err != nil {
		return "", err
	}

	out, err := client.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(topicARN),
		Protocol: aws.String(protocol),
		Endpoint: aws.String(endpoint),
	})
	if err != nil {
		return "", fmt.Errorf("subscribe %s to %s: %w", endpoint, topicARN, err)
	}
	if out.SubscriptionArn == nil {
		return "", errors.New("subscribe returned no subscription arn")
	}
	return *out.SubscriptionArn, nil
}

func openSNSClient(ctx context.Context, conn model.Connector) (snsSubscriber, error) {
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
	return sns.NewFromConfig(cfg), nil
}
