package webhook

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"gorm.io/datatypes"

	"catalogd/pkg/tunnel"
	"catalogd/services/catalog/internal/model"
	"catalogd/services/catalog/internal/store"
)

type fakeGateway struct {
	connectors []model.Connector
}

func (g *fakeGateway) LoadConnectors(context.Context) ([]model.Connector, error) {
	return g.connectors, nil
}
func (g *fakeGateway) LoadConnector(_ context.Context, id string) (model.Connector, error) {
	for _, c := range g.connectors {
		if c.ID == id {
			return c, nil
		}
	}
	return model.Connector{}, store.ErrNotFound
}
func (g *fakeGateway) SaveConnector(context.Context, model.Connector) error { return nil }
func (g *fakeGateway) LoadAssets(context.Context, string) ([]model.Asset, error) {
	return nil, nil
}
func (g *fakeGateway) UpsertAsset(context.Context, model.Asset) error { return nil }
func (g *fakeGateway) UpdateAssetStatus(context.Context, string, string) error {
	return nil
}
func (g *fakeGateway) UpdateConnectorCheckpoint(context.Context, string, time.Time, int) error {
	return nil
}
func (g *fakeGateway) SetConnectorStatus(context.Context, string, string) error { return nil }
func (g *fakeGateway) SavePendingAsset(context.Context, model.PendingAsset) (bool, error) {
	return true, nil
}
func (g *fakeGateway) MarkPendingProcessed(context.Context, string) error { return nil }

type fakeTunnel struct {
	url string
}

func (f *fakeTunnel) PublicURL(context.Context) (string, bool) {
	return f.url, f.url != ""
}

type fakeRegistrar struct {
	endpoints []string
	err       error
}

func (f *fakeRegistrar) Register(_ context.Context, _ model.Connector, endpoint string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.endpoints = append(f.endpoints, endpoint)
	return "arn:aws:sns:us-east-1:123:topic:sub-1", nil
}

func testLoop(gw *fakeGateway, intro tunnel.Introspector, reg Registrar) *Loop {
	return NewLoop(gw, intro, reg, "", log.New(os.Stderr, "", 0))
}

func objectConnector(id string) model.Connector {
	return model.Connector{
		ID:      id,
		Type:    model.TypeObjectStore,
		Enabled: true,
		Config:  datatypes.JSONMap{"sns_topic_arn": "arn:aws:sns:us-east-1:123:topic"},
	}
}

func TestLoopRegistersOncePerStableURL(t *testing.T) {
	gw := &fakeGateway{connectors: []model.Connector{objectConnector("conn-1")}}
	tn := &fakeTunnel{url: "https://abc.ngrok.io"}
	reg := &fakeRegistrar{}
	l := testLoop(gw, tn, reg)

	for range 3 {
		l.tick(context.Background())
	}

	if len(reg.endpoints) != 1 {
		t.Fatalf("stable URL must register once, got %d", len(reg.endpoints))
	}
	if reg.endpoints[0] != "https://abc.ngrok.io/v1/events/object-change" {
		t.Errorf("unexpected endpoint %q", reg.endpoints[0])
	}
}

func TestLoopReRegistersOnURLChange(t *testing.T) {
	gw := &fakeGateway{connectors: []model.Connector{objectConnector("conn-1")}}
	tn := &fakeTunnel{url: "https://abc.ngrok.io"}
	reg := &fakeRegistrar{}
	l := testLoop(gw, tn, reg)

	l.tick(context.Background())
	tn.url = "https://def.ngrok.io"
	l.tick(context.Background())

	if len(reg.endpoints) != 2 {
		t.Fatalf("expected 2 registrations, got %d", len(reg.endpoints))
	}
}

func TestLoopReRegistersAfterTunnelLoss(t *testing.T) {
	gw := &fakeGateway{connectors: []model.Connector{objectConnector("conn-1")}}
	tn := &fakeTunnel{url: "https://abc.ngrok.io"}
	reg := &fakeRegistrar{}
	l := testLoop(gw, tn, reg)

	l.tick(context.Background())
	tn.url = ""
	l.tick(context.Background())
	// Same URL comes back; the loop forgot it while the tunnel was down.
	tn.url = "https://abc.ngrok.io"
	l.tick(context.Background())

	if len(reg.endpoints) != 2 {
		t.Fatalf("expected re-registration after tunnel loss, got %d", len(reg.endpoints))
	}
}

func TestLoopRetriesFailedRegistration(t *testing.T) {
	gw := &fakeGateway{connectors: []model.Connector{objectConnector("conn-1")}}
	tn := &fakeTunnel{url: "https://abc.ngrok.io"}
	reg := &fakeRegistrar{err: errors.New("sns unreachable")}
	l := testLoop(gw, tn, reg)

	l.tick(context.Background())
	if l.lastURL != "" {
		t.Fatal("failed registration must not remember the URL")
	}

	reg.err = nil
	l.tick(context.Background())
	if len(reg.endpoints) != 1 || l.lastURL != "https://abc.ngrok.io" {
		t.Fatalf("expected successful retry, endpoints=%v lastURL=%q", reg.endpoints, l.lastURL)
	}
}

func TestLoopPinnedConnector(t *testing.T) {
	gw := &fakeGateway{connectors: []model.Connector{
		objectConnector("first"),
		objectConnector("pinned"),
	}}
	tn := &fakeTunnel{url: "https://abc.ngrok.io"}
	reg := &fakeRegistrar{}
	l := NewLoop(gw, tn, reg, "pinned", log.New(os.Stderr, "", 0))

	l.tick(context.Background())

	if len(reg.endpoints) != 1 {
		t.Fatalf("expected a registration, got %d", len(reg.endpoints))
	}
}

func TestLoopNoConnectorSkips(t *testing.T) {
	gw := &fakeGateway{}
	tn := &fakeTunnel{url: "https://abc.ngrok.io"}
	reg := &fakeRegistrar{}
	l := testLoop(gw, tn, reg)

	l.tick(context.Background())

	if len(reg.endpoints) != 0 {
		t.Fatal("no connector, no registration")
	}
	if l.lastURL != "" {
		t.Fatal("URL must not be remembered without a registration")
	}
}

type fakeSubscriber struct {
	inputs []*sns.SubscribeInput
}

func (f *fakeSubscriber) Subscribe(_ context.Context, params *sns.SubscribeInput, _ ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	f.inputs = append(f.inputs, params)
	return &sns.SubscribeOutput{SubscriptionArn: aws.String("arn:sub")}, nil
}

func TestSNSRegistrar(t *testing.T) {
	sub := &fakeSubscriber{}
	r := &SNSRegistrar{open: func(context.Context, model.Connector) (snsSubscriber, error) {
		return sub, nil
	}}

	arn, err := r.Register(context.Background(), objectConnector("conn-1"),
		"https://abc.ngrok.io/v1/events/object-change")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if arn != "arn:sub" {
		t.Errorf("unexpected arn %q", arn)
	}
	in := sub.inputs[0]
	if *in.Protocol != "https" || *in.TopicArn != "arn:aws:sns:us-east-1:123:topic" {
		t.Errorf("unexpected input %+v", in)
	}

	noTopic := model.Connector{ID: "bare", Type: model.TypeObjectStore, Enabled: true}
	if _, err := r.Register(context.Background(), noTopic, "https://x/cb"); err == nil {
		t.Fatal("expected error without sns_topic_arn")
	}
}
