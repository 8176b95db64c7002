package reconcile

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"catalogd/services/catalog/internal/discovery"
	"catalogd/services/catalog/internal/model"
	"catalogd/services/catalog/internal/store"
)

type checkpoint struct {
	lastRun time.Time
	count   int
}

type fakeGateway struct {
	assets      map[string]model.Asset
	upsertErr   map[string]error
	checkpoints []checkpoint
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{assets: map[string]model.Asset{}, upsertErr: map[string]error{}}
}

func (g *fakeGateway) LoadConnectors(context.Context) ([]model.Connector, error) { return nil, nil }
func (g *fakeGateway) LoadConnector(context.Context, string) (model.Connector, error) {
	return model.Connector{}, store.ErrNotFound
}
func (g *fakeGateway) SaveConnector(context.Context, model.Connector) error { return nil }

func (g *fakeGateway) LoadAssets(_ context.Context, connectorID string) ([]model.Asset, error) {
	var out []model.Asset
	for _, a := range g.assets {
		if connectorID == "" || a.ConnectorID == connectorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (g *fakeGateway) UpsertAsset(_ context.Context, asset model.Asset) error {
	if err := g.upsertErr[asset.ID]; err != nil {
		return err
	}
	g.assets[asset.ID] = asset
	return nil
}

func (g *fakeGateway) UpdateAssetStatus(_ context.Context, id, status string) error {
	a, ok := g.assets[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Status = status
	g.assets[id] = a
	return nil
}

func (g *fakeGateway) UpdateConnectorCheckpoint(_ context.Context, _ string, lastRun time.Time, count int) error {
	g.checkpoints = append(g.checkpoints, checkpoint{lastRun: lastRun, count: count})
	return nil
}

func (g *fakeGateway) SetConnectorStatus(context.Context, string, string) error { return nil }
func (g *fakeGateway) SavePendingAsset(context.Context, model.PendingAsset) (bool, error) {
	return true, nil
}
func (g *fakeGateway) MarkPendingProcessed(context.Context, string) error { return nil }

type fakeAdapter struct {
	result *discovery.Result
	err    error
}

func (a fakeAdapter) Discover(context.Context, model.Connector) (*discovery.Result, error) {
	return a.result, a.err
}

type captureNotifier struct {
	names []string
	ids   []string
	calls [][]model.AssetSummary
	err   error
}

func (n *captureNotifier) NotifyNewAssets(_ context.Context, name, id string, assets []model.AssetSummary) error {
	n.names = append(n.names, name)
	n.ids = append(n.ids, id)
	n.calls = append(n.calls, assets)
	return n.err
}

func desc(id string, size int64) model.AssetDescriptor {
	return model.AssetDescriptor{
		ID:           id,
		Name:         model.BaseName(id),
		Type:         model.TypeFileAsset,
		Catalog:      "bucket",
		SizeBytes:    size,
		LastModified: time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC),
		Source:       "Amazon S3",
	}
}

func engineWith(gw store.Gateway, adapter discovery.Adapter, notifier Notifier) *Engine {
	e := New(gw, discovery.Registry{model.TypeObjectStore: adapter}, notifier,
		log.New(os.Stderr, "", 0))
	e.now = func() time.Time { return time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC) }
	return e
}

func objectConnector() model.Connector {
	return model.Connector{ID: "conn-1", Name: "prod-data-lake", Type: model.TypeObjectStore}
}

func TestFullPassNewAssets(t *testing.T) {
	gw := newFakeGateway()
	notifier := &captureNotifier{}
	e := engineWith(gw, fakeAdapter{result: &discovery.Result{
		Assets: []model.AssetDescriptor{desc("s3://bucket/a.csv", 1), desc("s3://bucket/b.csv", 2)},
	}}, notifier)

	summary, err := e.FullPass(context.Background(), objectConnector())
	if err != nil {
		t.Fatalf("FullPass: %v", err)
	}
	if summary.New != 2 || summary.Updated != 0 || summary.Removed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(gw.assets) != 2 {
		t.Fatalf("expected 2 stored assets, got %d", len(gw.assets))
	}
	if got := gw.assets["s3://bucket/a.csv"]; got.Status != model.StatusActive || got.ConnectorID != "conn-1" {
		t.Errorf("unexpected stored asset %+v", got)
	}
	if len(gw.checkpoints) != 1 || gw.checkpoints[0].count != 2 {
		t.Fatalf("unexpected checkpoints %+v", gw.checkpoints)
	}
	if len(notifier.calls) != 1 || len(notifier.calls[0]) != 2 {
		t.Fatalf("unexpected notifier calls %+v", notifier.calls)
	}
	if notifier.names[0] != "prod-data-lake" || notifier.ids[0] != "conn-1" {
		t.Errorf("announcement must carry connector name and id, got %q/%q",
			notifier.names[0], notifier.ids[0])
	}
}

func TestFullPassRepeatIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	notifier := &captureNotifier{}
	e := engineWith(gw, fakeAdapter{result: &discovery.Result{
		Assets: []model.AssetDescriptor{desc("s3://bucket/a.csv", 1), desc("s3://bucket/b.csv", 2)},
	}}, notifier)

	conn := objectConnector()
	if _, err := e.FullPass(context.Background(), conn); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	summary, err := e.FullPass(context.Background(), conn)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if summary.New != 0 || summary.Updated != 2 || summary.Removed != 0 {
		t.Fatalf("second pass over unchanged source must insert nothing, got %+v", summary)
	}
	if len(gw.assets) != 2 {
		t.Fatalf("expected 2 stored assets after two passes, got %d", len(gw.assets))
	}
	if len(notifier.calls) != 1 {
		t.Errorf("only the first pass should announce, got %d calls", len(notifier.calls))
	}
}

func TestFullPassSoftDeletesMissing(t *testing.T) {
	gw := newFakeGateway()
	gw.assets["s3://bucket/keep.csv"] = model.Asset{
		ID: "s3://bucket/keep.csv", ConnectorID: "conn-1", Status: model.StatusActive,
	}
	gw.assets["s3://bucket/gone.csv"] = model.Asset{
		ID: "s3://bucket/gone.csv", ConnectorID: "conn-1", Status: model.StatusActive,
	}

	e := engineWith(gw, fakeAdapter{result: &discovery.Result{
		Assets: []model.AssetDescriptor{desc("s3://bucket/keep.csv", 5)},
	}}, nil)

	summary, err := e.FullPass(context.Background(), objectConnector())
	if err != nil {
		t.Fatalf("FullPass: %v", err)
	}
	if summary.Updated != 1 || summary.Removed != 1 || summary.New != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := gw.assets["s3://bucket/gone.csv"]; got.Status != model.StatusRemoved {
		t.Errorf("expected removed status, got %q", got.Status)
	}
	if got := gw.assets["s3://bucket/keep.csv"]; got.Status != model.StatusActive {
		t.Errorf("expected active status, got %q", got.Status)
	}
	if gw.checkpoints[0].count != 1 {
		t.Errorf("unexpected checkpoint count %d", gw.checkpoints[0].count)
	}
}

func TestFullPassKeepsAssetsInSkippedContainers(t *testing.T) {
	gw := newFakeGateway()
	gw.assets["s3://flaky/report.csv"] = model.Asset{
		ID: "s3://flaky/report.csv", ConnectorID: "conn-1",
		Catalog: "flaky", Status: model.StatusActive,
	}
	gw.assets["s3://steady/gone.csv"] = model.Asset{
		ID: "s3://steady/gone.csv", ConnectorID: "conn-1",
		Catalog: "steady", Status: model.StatusActive,
	}

	steady := desc("s3://steady/kept.csv", 3)
	steady.Catalog = "steady"
	e := engineWith(gw, fakeAdapter{result: &discovery.Result{
		Assets:  []model.AssetDescriptor{steady},
		Partial: []discovery.SkippedContainer{{Name: "flaky", Err: errors.New("listing timed out")}},
	}}, nil)

	summary, err := e.FullPass(context.Background(), objectConnector())
	if err != nil {
		t.Fatalf("FullPass: %v", err)
	}
	if summary.Removed != 1 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := gw.assets["s3://flaky/report.csv"]; got.Status != model.StatusActive {
		t.Errorf("asset in skipped container must stay active, got %q", got.Status)
	}
	if got := gw.assets["s3://steady/gone.csv"]; got.Status != model.StatusRemoved {
		t.Errorf("absence in a cleanly listed container still removes, got %q", got.Status)
	}
}

func TestFullPassRediscoveryReactivates(t *testing.T) {
	gw := newFakeGateway()
	gw.assets["s3://bucket/back.csv"] = model.Asset{
		ID: "s3://bucket/back.csv", ConnectorID: "conn-1", Status: model.StatusRemoved,
	}

	notifier := &captureNotifier{}
	e := engineWith(gw, fakeAdapter{result: &discovery.Result{
		Assets: []model.AssetDescriptor{desc("s3://bucket/back.csv", 9)},
	}}, notifier)

	summary, err := e.FullPass(context.Background(), objectConnector())
	if err != nil {
		t.Fatalf("FullPass: %v", err)
	}
	if summary.New != 1 {
		t.Fatalf("rediscovered asset should count as new, got %+v", summary)
	}
	if got := gw.assets["s3://bucket/back.csv"]; got.Status != model.StatusActive {
		t.Errorf("expected reactivated asset, got status %q", got.Status)
	}
	if len(notifier.calls) != 1 {
		t.Errorf("expected announcement for reactivated asset")
	}
}

func TestFullPassDuplicateDescriptorsLaterWins(t *testing.T) {
	gw := newFakeGateway()
	e := engineWith(gw, fakeAdapter{result: &discovery.Result{
		Assets: []model.AssetDescriptor{desc("s3://bucket/a.csv", 1), desc("s3://bucket/a.csv", 99)},
	}}, nil)

	summary, err := e.FullPass(context.Background(), objectConnector())
	if err != nil {
		t.Fatalf("FullPass: %v", err)
	}
	if summary.Discovered != 1 || summary.New != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := gw.assets["s3://bucket/a.csv"]; got.SizeBytes != 99 {
		t.Errorf("expected later duplicate to win, got size %d", got.SizeBytes)
	}
}

func TestFullPassToleratesPerAssetFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.upsertErr["s3://bucket/bad.csv"] = errors.New("constraint violation")

	e := engineWith(gw, fakeAdapter{result: &discovery.Result{
		Assets: []model.AssetDescriptor{desc("s3://bucket/bad.csv", 1), desc("s3://bucket/good.csv", 2)},
	}}, nil)

	summary, err := e.FullPass(context.Background(), objectConnector())
	if err != nil {
		t.Fatalf("FullPass: %v", err)
	}
	if summary.Failed != 1 || summary.New != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(gw.checkpoints) != 1 {
		t.Fatal("checkpoint must still be written after per-asset failures")
	}
}

func TestFullPassDiscoveryErrorSkipsCheckpoint(t *testing.T) {
	gw := newFakeGateway()
	e := engineWith(gw, fakeAdapter{err: discovery.ErrRemoteUnavailable}, nil)

	_, err := e.FullPass(context.Background(), objectConnector())
	if !errors.Is(err, discovery.ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
	if len(gw.checkpoints) != 0 {
		t.Fatal("checkpoint must not advance on discovery failure")
	}
}

func TestFullPassNotifierFailureIsBestEffort(t *testing.T) {
	gw := newFakeGateway()
	notifier := &captureNotifier{err: errors.New("nats: connection closed")}
	e := engineWith(gw, fakeAdapter{result: &discovery.Result{
		Assets: []model.AssetDescriptor{desc("s3://bucket/a.csv", 1)},
	}}, notifier)

	if _, err := e.FullPass(context.Background(), objectConnector()); err != nil {
		t.Fatalf("notifier failure must not fail the pass: %v", err)
	}
}

func TestIncrementalCreated(t *testing.T) {
	gw := newFakeGateway()
	notifier := &captureNotifier{}
	e := engineWith(gw, fakeAdapter{}, notifier)

	summary, err := e.Incremental(context.Background(), objectConnector(), model.PendingAsset{
		ID:         "p-1",
		AssetID:    "s3://bucket/new.json",
		Name:       "new.json",
		Type:       model.TypeDataFile,
		Catalog:    "bucket",
		ChangeType: model.ChangeCreated,
		AssetData: map[string]any{
			"schema":        "raw",
			"size_bytes":    float64(512),
			"last_modified": "2026-04-02T07:30:00Z",
			"source":        "Amazon S3",
		},
	})
	if err != nil {
		t.Fatalf("Incremental: %v", err)
	}
	if summary.New != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	got := gw.assets["s3://bucket/new.json"]
	if got.SizeBytes != 512 || got.SchemaName != "raw" || got.Status != model.StatusActive {
		t.Errorf("unexpected stored asset %+v", got)
	}
	if len(gw.checkpoints) != 0 {
		t.Error("incremental pass must not touch the checkpoint")
	}
	if len(notifier.calls) != 1 {
		t.Error("expected announcement for created asset")
	}
}

func TestIncrementalRemoved(t *testing.T) {
	gw := newFakeGateway()
	gw.assets["s3://bucket/old.csv"] = model.Asset{
		ID: "s3://bucket/old.csv", ConnectorID: "conn-1", Status: model.StatusActive,
	}
	e := engineWith(gw, fakeAdapter{}, nil)

	summary, err := e.Incremental(context.Background(), objectConnector(), model.PendingAsset{
		ID: "p-2", AssetID: "s3://bucket/old.csv", ChangeType: model.ChangeRemoved,
	})
	if err != nil {
		t.Fatalf("Incremental: %v", err)
	}
	if summary.Removed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := gw.assets["s3://bucket/old.csv"]; got.Status != model.StatusRemoved {
		t.Errorf("expected removed status, got %q", got.Status)
	}
}

func TestIncrementalRemovedUnknownAsset(t *testing.T) {
	gw := newFakeGateway()
	e := engineWith(gw, fakeAdapter{}, nil)

	summary, err := e.Incremental(context.Background(), objectConnector(), model.PendingAsset{
		ID: "p-3", AssetID: "s3://bucket/never-seen.csv", ChangeType: model.ChangeRemoved,
	})
	if err != nil {
		t.Fatalf("removal of unknown asset must not error: %v", err)
	}
	if summary.Removed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestIncrementalUnknownChangeType(t *testing.T) {
	e := engineWith(newFakeGateway(), fakeAdapter{}, nil)

	_, err := e.Incremental(context.Background(), objectConnector(), model.PendingAsset{
		ID: "p-4", AssetID: "s3://bucket/x", ChangeType: "renamed",
	})
	if err == nil {
		t.Fatal("expected error for unknown change type")
	}
}
