package events

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"gorm.io/datatypes"

	"catalogd/services/catalog/internal/model"
	"catalogd/services/catalog/internal/reconcile"
	"catalogd/services/catalog/internal/store"
)

const s3CreatedBody = `{
  "Records": [
    {
      "eventName": "ObjectCreated:Put",
      "eventTime": "2026-04-02T08:15:00Z",
      "s3": {
        "bucket": {"name": "analytics"},
        "object": {"key": "raw/events.parquet", "size": 2048}
      }
    }
  ]
}`

func snsWrapped(inner string) string {
	b, _ := json.Marshal(map[string]string{"Type": "Notification", "Message": inner})
	return string(b)
}

func TestParseEnvelopeS3Records(t *testing.T) {
	env, err := ParseEnvelope([]byte(s3CreatedBody))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Kind != KindNotification || len(env.Changes) != 1 {
		t.Fatalf("unexpected envelope %+v", env)
	}
	change := env.Changes[0]
	if change.Bucket != "analytics" || change.Key != "raw/events.parquet" {
		t.Errorf("unexpected target %q/%q", change.Bucket, change.Key)
	}
	if change.ChangeType != model.ChangeCreated || change.SizeBytes != 2048 {
		t.Errorf("unexpected change %+v", change)
	}
	want := time.Date(2026, 4, 2, 8, 15, 0, 0, time.UTC)
	if !change.Modified.Equal(want) {
		t.Errorf("unexpected modified %v", change.Modified)
	}
}

func TestParseEnvelopeSNSWrapped(t *testing.T) {
	env, err := ParseEnvelope([]byte(snsWrapped(s3CreatedBody)))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if len(env.Changes) != 1 || env.Changes[0].Bucket != "analytics" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestParseEnvelopeSubscriptionConfirmation(t *testing.T) {
	body := `{"Type":"SubscriptionConfirmation","SubscribeURL":"https://sns.example/confirm?token=x"}`
	env, err := ParseEnvelope([]byte(body))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Kind != KindSubscriptionConfirmation || env.SubscribeURL == "" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestParseEnvelopePubsub(t *testing.T) {
	payload := `{"name":"exports/daily.csv","bucket":"warehouse","size":"512","updated":"2026-04-02T07:00:00Z"}`
	body := fmt.Sprintf(`{
  "message": {
    "data": %q,
    "attributes": {"eventType": "OBJECT_DELETE"}
  },
  "subscription": "projects/p/subscriptions/s"
}`, base64.StdEncoding.EncodeToString([]byte(payload)))

	env, err := ParseEnvelope([]byte(body))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	change := env.Changes[0]
	if change.ChangeType != model.ChangeRemoved || change.Scheme != "gs" {
		t.Errorf("unexpected change %+v", change)
	}
	if change.Bucket != "warehouse" || change.Key != "exports/daily.csv" || change.SizeBytes != 512 {
		t.Errorf("unexpected change %+v", change)
	}
}

func TestParseEnvelopeMalformed(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"Records": []}`,
		`{"Records": [{"eventName": "ObjectCreated:Put", "s3": {"bucket": {}, "object": {}}}]}`,
		`{"message": {"data": "!!not-base64!!"}}`,
		`{"message": {"data": ""}}`,
		`{"unrelated": true}`,
		`{"Type": "Notification", "Message": "not json either"}`,
	}
	for _, body := range bodies {
		if _, err := ParseEnvelope([]byte(body)); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("body %q: expected ErrMalformedEvent, got %v", body, err)
		}
	}
}

func TestMapEventType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"ObjectCreated:Put", model.ChangeCreated},
		{"ObjectCreated:CompleteMultipartUpload", model.ChangeCreated},
		{"ObjectRemoved:Delete", model.ChangeRemoved},
		{"OBJECT_FINALIZE", model.ChangeCreated},
		{"OBJECT_DELETE", model.ChangeRemoved},
		{"OBJECT_METADATA_UPDATE", model.ChangeUpdated},
		{"LifecycleTransition", model.ChangeCreated},
	}
	for _, tc := range tests {
		if got := mapEventType(tc.name); got != tc.want {
			t.Errorf("mapEventType(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

type fakeGateway struct {
	connectors []model.Connector
	staged     []model.PendingAsset
	processed  []string
	duplicate  bool
	saveErr    error
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
func (g *fakeGateway) SavePendingAsset(_ context.Context, pending model.PendingAsset) (bool, error) {
	if g.saveErr != nil {
		return false, g.saveErr
	}
	if g.duplicate {
		return false, nil
	}
	g.staged = append(g.staged, pending)
	return true, nil
}
func (g *fakeGateway) MarkPendingProcessed(_ context.Context, id string) error {
	g.processed = append(g.processed, id)
	return nil
}

type fakeApplier struct {
	calls []model.PendingAsset
	err   error
}

func (a *fakeApplier) Incremental(_ context.Context, _ model.Connector, pending model.PendingAsset) (reconcile.Summary, error) {
	a.calls = append(a.calls, pending)
	return reconcile.Summary{}, a.err
}

func objectConnector(id, bucket string) model.Connector {
	cfg := datatypes.JSONMap{}
	if bucket != "" {
		cfg["bucket"] = bucket
	}
	return model.Connector{ID: id, Type: model.TypeObjectStore, Enabled: true, Config: cfg}
}

func newTestPipeline(gw *fakeGateway, applier *fakeApplier) *Pipeline {
	return NewPipeline(gw, applier, log.New(os.Stderr, "", 0))
}

func TestPipelineProcessStagesAndApplies(t *testing.T) {
	gw := &fakeGateway{connectors: []model.Connector{objectConnector("conn-1", "analytics")}}
	applier := &fakeApplier{}
	p := newTestPipeline(gw, applier)

	applied, err := p.Process(context.Background(), "", []byte(s3CreatedBody))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied, got %d", applied)
	}
	if len(gw.staged) != 1 {
		t.Fatalf("expected 1 staged pending asset, got %d", len(gw.staged))
	}

	pending := gw.staged[0]
	if pending.AssetID != "s3://analytics/raw/events.parquet" {
		t.Errorf("unexpected asset id %q", pending.AssetID)
	}
	if pending.ConnectorID != "conn-1" || pending.ChangeType != model.ChangeCreated {
		t.Errorf("unexpected pending %+v", pending)
	}
	if pending.Type != model.TypeDataFile {
		t.Errorf("unexpected type %q", pending.Type)
	}
	if len(applier.calls) != 1 {
		t.Fatalf("expected 1 incremental call, got %d", len(applier.calls))
	}
	if len(gw.processed) != 1 || gw.processed[0] != pending.ID {
		t.Errorf("pending row was not marked processed: %v", gw.processed)
	}
}

func TestPipelineProcessDuplicateSkipsApply(t *testing.T) {
	gw := &fakeGateway{
		connectors: []model.Connector{objectConnector("conn-1", "analytics")},
		duplicate:  true,
	}
	applier := &fakeApplier{}
	p := newTestPipeline(gw, applier)

	applied, err := p.Process(context.Background(), "", []byte(s3CreatedBody))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if applied != 1 {
		t.Fatalf("duplicate still counts as handled, got %d", applied)
	}
	if len(applier.calls) != 0 {
		t.Fatal("duplicate must not reach the engine")
	}
}

func TestPipelineProcessUnknownTarget(t *testing.T) {
	gw := &fakeGateway{connectors: []model.Connector{objectConnector("conn-1", "other-bucket")}}
	p := newTestPipeline(gw, &fakeApplier{})

	_, err := p.Process(context.Background(), "", []byte(s3CreatedBody))
	if !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
	if len(gw.staged) != 0 {
		t.Fatal("unroutable event must not stage anything")
	}
}

func TestPipelineProcessUnscopedFallback(t *testing.T) {
	gw := &fakeGateway{connectors: []model.Connector{
		objectConnector("scoped", "other-bucket"),
		objectConnector("catchall", ""),
	}}
	applier := &fakeApplier{}
	p := newTestPipeline(gw, applier)

	if _, err := p.Process(context.Background(), "", []byte(s3CreatedBody)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if gw.staged[0].ConnectorID != "catchall" {
		t.Errorf("expected fallback connector, got %q", gw.staged[0].ConnectorID)
	}
}

func TestPipelineProcessExplicitConnector(t *testing.T) {
	gw := &fakeGateway{connectors: []model.Connector{objectConnector("conn-9", "")}}
	p := newTestPipeline(gw, &fakeApplier{})

	if _, err := p.Process(context.Background(), "conn-9", []byte(s3CreatedBody)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := p.Process(context.Background(), "missing", []byte(s3CreatedBody)); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget for missing connector, got %v", err)
	}
}

func TestPipelineProcessApplyFailure(t *testing.T) {
	gw := &fakeGateway{connectors: []model.Connector{objectConnector("conn-1", "analytics")}}
	applier := &fakeApplier{err: errors.New("db down")}
	p := newTestPipeline(gw, applier)

	_, err := p.Process(context.Background(), "", []byte(s3CreatedBody))
	if !errors.Is(err, ErrProcessing) {
		t.Fatalf("expected ErrProcessing, got %v", err)
	}
	if len(gw.processed) != 0 {
		t.Fatal("failed apply must keep the pending row unprocessed")
	}
}

func TestHandleObjectChangeStatuses(t *testing.T) {
	gw := &fakeGateway{connectors: []model.Connector{objectConnector("conn-1", "analytics")}}
	applier := &fakeApplier{}
	h := NewHandler(newTestPipeline(gw, applier), log.New(os.Stderr, "", 0))
	router, err := h.Routes()
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/events/object-change", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(s3CreatedBody); rec.Code != http.StatusAccepted {
		t.Errorf("valid event: got %d, want 202", rec.Code)
	}
	if rec := post(`{"garbage`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed event: got %d, want 400", rec.Code)
	}

	unknown := strings.ReplaceAll(s3CreatedBody, "analytics", "nobody-owns-this")
	if rec := post(unknown); rec.Code != http.StatusNotFound {
		t.Errorf("unknown target: got %d, want 404", rec.Code)
	}

	applier.err = errors.New("db down")
	if rec := post(s3CreatedBody); rec.Code != http.StatusBadGateway {
		t.Errorf("processing failure: got %d, want 502", rec.Code)
	}
}

type fakeReceiver struct {
	messages []queueMessage
	received int
	deleted  []string
}

func (f *fakeReceiver) Receive(context.Context, string) ([]queueMessage, error) {
	f.received++
	out := f.messages
	f.messages = nil
	return out, nil
}

func (f *fakeReceiver) Delete(_ context.Context, _ string, receiptHandle string) error {
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

func TestBridgeDrain(t *testing.T) {
	conn := objectConnector("conn-1", "analytics")
	conn.Config["queue_url"] = "https://sqs.example/q"
	gw := &fakeGateway{connectors: []model.Connector{conn}}
	applier := &fakeApplier{}

	receiver := &fakeReceiver{messages: []queueMessage{
		{Body: s3CreatedBody, ReceiptHandle: "rh-1"},
		{Body: `{"garbage`, ReceiptHandle: "rh-2"},
	}}
	b := NewBridge(gw, newTestPipeline(gw, applier), log.New(os.Stderr, "", 0))
	b.open = func(context.Context, model.Connector) (queueReceiver, error) {
		return receiver, nil
	}

	b.sweep(context.Background())

	if receiver.received != 1 {
		t.Fatalf("expected one receive, got %d", receiver.received)
	}
	// Both the applied message and the malformed one are deleted.
	if len(receiver.deleted) != 2 {
		t.Fatalf("expected both messages deleted, got %v", receiver.deleted)
	}
	if len(applier.calls) != 1 {
		t.Fatalf("expected one incremental apply, got %d", len(applier.calls))
	}
}

func TestBridgeLeavesMessageOnTransientFailure(t *testing.T) {
	conn := objectConnector("conn-1", "analytics")
	conn.Config["queue_url"] = "https://sqs.example/q"
	gw := &fakeGateway{connectors: []model.Connector{conn}}
	applier := &fakeApplier{err: errors.New("db down")}

	receiver := &fakeReceiver{messages: []queueMessage{
		{Body: s3CreatedBody, ReceiptHandle: "rh-1"},
	}}
	b := NewBridge(gw, newTestPipeline(gw, applier), log.New(os.Stderr, "", 0))
	b.open = func(context.Context, model.Connector) (queueReceiver, error) {
		return receiver, nil
	}

	b.sweep(context.Background())

	if len(receiver.deleted) != 0 {
		t.Fatalf("transient failure must not delete, got %v", receiver.deleted)
	}
}
