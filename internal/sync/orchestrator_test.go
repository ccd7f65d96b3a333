package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pickersync/pickersync/internal/config"
	"github.com/pickersync/pickersync/internal/dbfacade"
	"github.com/pickersync/pickersync/internal/model"
	"github.com/pickersync/pickersync/internal/prefs"
	"github.com/pickersync/pickersync/internal/provider"
	"github.com/pickersync/pickersync/internal/provider/stub"
)

const testLocalAuthority = "com.example.local"

type orchestratorFixture struct {
	orch       *Orchestrator
	cloudState *CloudState
	registry   *provider.Registry
	prefsStore prefs.Store
	facade     dbfacade.Facade
}

func newOrchestratorFixture(t *testing.T, local provider.MediaProvider, cfg config.Store) *orchestratorFixture {
	t.Helper()

	dir, err := os.MkdirTemp("", "pickersync-orchestrator-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	facade, err := dbfacade.Open(filepath.Join(dir, "picker.db"), "testkey")
	if err != nil {
		t.Fatalf("dbfacade.Open: %v", err)
	}
	t.Cleanup(func() { facade.Close() })

	prefsStore, err := prefs.Open(filepath.Join(dir, "prefs.db"), "testkey")
	if err != nil {
		t.Fatalf("prefs.Open: %v", err)
	}
	t.Cleanup(func() { prefsStore.Close() })

	reg := provider.NewRegistry()
	if cfg == nil {
		cfg = config.NewStaticStore(true, "", nil)
	}
	cs := NewCloudState(testLocalAuthority, reg, cfg, prefsStore, facade, nil, nil)
	planner := NewPlanner(nil)
	engine := NewPagedEngine(prefsStore, nil, nil)

	orch := NewOrchestrator(testLocalAuthority, local, reg, cs, planner, engine, facade, prefsStore, nil, nil, 10)

	return &orchestratorFixture{orch: orch, cloudState: cs, registry: reg, prefsStore: prefsStore, facade: facade}
}

func TestOrchestratorLocalFullSyncThenNoOp(t *testing.T) {
	local := stub.New(testLocalAuthority)
	local.Put(stub.Item{ID: "a", DateTakenMs: 1})
	local.Put(stub.Item{ID: "b", DateTakenMs: 2})

	fx := newOrchestratorFixture(t, local, nil)

	ok, err := fx.orch.SyncAllMediaFromLocalProvider(context.Background())
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if !ok {
		t.Fatal("first sync: expected success")
	}

	cursor, err := fx.prefsStore.SyncCursor(context.Background(), prefs.LocalProvider)
	if err != nil {
		t.Fatalf("SyncCursor: %v", err)
	}
	if cursor.MediaCollectionID != testLocalAuthority+"-collection-1" || cursor.LastMediaSyncGeneration != 2 {
		t.Fatalf("cursor = %+v, want collection-1 at generation 2", cursor)
	}
	if cursor.Resume.MediaAdd != "" {
		t.Fatalf("resume token not cleared after full page: %q", cursor.Resume.MediaAdd)
	}

	ok, err = fx.orch.SyncAllMediaFromLocalProvider(context.Background())
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if !ok {
		t.Fatal("second sync (no-op): expected success")
	}

	cursor2, err := fx.prefsStore.SyncCursor(context.Background(), prefs.LocalProvider)
	if err != nil {
		t.Fatalf("SyncCursor after no-op: %v", err)
	}
	if cursor2 != cursor {
		t.Fatalf("no-op sync changed cursor: before=%+v after=%+v", cursor, cursor2)
	}
}

func TestOrchestratorLocalIncrementalSyncAdvancesGeneration(t *testing.T) {
	local := stub.New(testLocalAuthority)
	local.Put(stub.Item{ID: "a", DateTakenMs: 1})

	fx := newOrchestratorFixture(t, local, nil)
	if ok, err := fx.orch.SyncAllMediaFromLocalProvider(context.Background()); err != nil || !ok {
		t.Fatalf("initial sync: ok=%v err=%v", ok, err)
	}

	local.Put(stub.Item{ID: "b", DateTakenMs: 2})

	ok, err := fx.orch.SyncAllMediaFromLocalProvider(context.Background())
	if err != nil {
		t.Fatalf("incremental sync: %v", err)
	}
	if !ok {
		t.Fatal("incremental sync: expected success")
	}

	cursor, err := fx.prefsStore.SyncCursor(context.Background(), prefs.LocalProvider)
	if err != nil {
		t.Fatalf("SyncCursor: %v", err)
	}
	if cursor.LastMediaSyncGeneration != 2 {
		t.Fatalf("LastMediaSyncGeneration = %d, want 2", cursor.LastMediaSyncGeneration)
	}
}

func TestOrchestratorResetAllMediaClearsBothCursors(t *testing.T) {
	local := stub.New(testLocalAuthority)
	local.Put(stub.Item{ID: "a", DateTakenMs: 1})

	fx := newOrchestratorFixture(t, local, nil)
	if ok, err := fx.orch.SyncAllMediaFromLocalProvider(context.Background()); err != nil || !ok {
		t.Fatalf("initial sync: ok=%v err=%v", ok, err)
	}
	if err := fx.prefsStore.SetSyncCursor(context.Background(), prefs.CloudProvider, "cloud-collection-1", 4); err != nil {
		t.Fatalf("SetSyncCursor(cloud): %v", err)
	}

	ok, err := fx.orch.ResetAllMedia(context.Background())
	if err != nil {
		t.Fatalf("ResetAllMedia: %v", err)
	}
	if !ok {
		t.Fatal("ResetAllMedia: expected success")
	}

	cursor, err := fx.prefsStore.SyncCursor(context.Background(), prefs.LocalProvider)
	if err != nil {
		t.Fatalf("SyncCursor: %v", err)
	}
	if !cursor.Empty() {
		t.Fatalf("local cursor not cleared: %+v", cursor)
	}

	cloudCursor, err := fx.prefsStore.SyncCursor(context.Background(), prefs.CloudProvider)
	if err != nil {
		t.Fatalf("SyncCursor(cloud): %v", err)
	}
	if !cloudCursor.Empty() {
		t.Fatalf("cloud cursor not cleared: %+v", cloudCursor)
	}
}

func TestOrchestratorFullVerdictClearsStaleResumeTokenBeforePaging(t *testing.T) {
	local := stub.New(testLocalAuthority)
	local.Put(stub.Item{ID: "a", DateTakenMs: 1})
	local.Put(stub.Item{ID: "b", DateTakenMs: 2})

	fx := newOrchestratorFixture(t, local, nil)

	// Simulate a crash mid-Full-sync: a resume token survived from an
	// aborted run against a wiped collection id, as if page 0 committed
	// and the process died before cacheCollectionInfo ever ran.
	if err := fx.prefsStore.SetResumeToken(context.Background(), prefs.LocalProvider, model.OpAddMedia, "stale-page-token"); err != nil {
		t.Fatalf("SetResumeToken: %v", err)
	}

	ok, err := fx.orch.SyncAllMediaFromLocalProvider(context.Background())
	if err != nil {
		t.Fatalf("SyncAllMediaFromLocalProvider: %v", err)
	}
	if !ok {
		t.Fatal("expected success")
	}

	cursor, err := fx.prefsStore.SyncCursor(context.Background(), prefs.LocalProvider)
	if err != nil {
		t.Fatalf("SyncCursor: %v", err)
	}
	if cursor.Resume.MediaAdd != "" {
		t.Fatalf("stale resume token survived the Full reset: %q", cursor.Resume.MediaAdd)
	}
	if cursor.MediaCollectionID != testLocalAuthority+"-collection-1" || cursor.LastMediaSyncGeneration != 2 {
		t.Fatalf("cursor = %+v, want both rows applied despite the stale token", cursor)
	}
}

func TestOrchestratorSyncAlbumMediaFiltersToAlbum(t *testing.T) {
	local := stub.New(testLocalAuthority)
	local.Put(stub.Item{ID: "a", DateTakenMs: 1, AlbumID: "album1"})
	local.Put(stub.Item{ID: "b", DateTakenMs: 2})

	fx := newOrchestratorFixture(t, local, nil)

	ok, err := fx.orch.SyncAlbumMedia(context.Background(), "album1", true)
	if err != nil {
		t.Fatalf("SyncAlbumMedia: %v", err)
	}
	if !ok {
		t.Fatal("SyncAlbumMedia: expected success")
	}

	cursor, err := fx.prefsStore.SyncCursor(context.Background(), prefs.LocalProvider)
	if err != nil {
		t.Fatalf("SyncCursor: %v", err)
	}
	if cursor.Resume.AlbumAdd != "" {
		t.Fatalf("album resume token not cleared: %q", cursor.Resume.AlbumAdd)
	}
}

// hookedCloudProvider lets a test inject a side effect exactly when the
// orchestrator fetches the provider's latest collection info — the one
// point spec §4.F's mid-sync recheck is meant to catch a concurrent
// provider swap.
type hookedCloudProvider struct {
	authority    string
	collectionID string
	onInfo       func()
}

func (h *hookedCloudProvider) Authority() string { return h.authority }

func (h *hookedCloudProvider) MediaCollectionInfo(ctx context.Context) (model.MediaCollectionInfo, error) {
	if h.onInfo != nil {
		h.onInfo()
	}
	return model.MediaCollectionInfo{MediaCollectionID: h.collectionID, LastMediaSyncGeneration: 0}, nil
}

func (h *hookedCloudProvider) Media(ctx context.Context, args provider.QueryArgs) (provider.PageResult, error) {
	return provider.PageResult{MediaCollectionID: h.collectionID, HonoredArgs: []string{"pageSize"}}, nil
}

func (h *hookedCloudProvider) DeletedMedia(ctx context.Context, args provider.QueryArgs) (provider.PageResult, error) {
	return provider.PageResult{MediaCollectionID: h.collectionID, HonoredArgs: []string{"pageSize", "syncGeneration"}}, nil
}

func TestOrchestratorCloudSyncAbortsWithoutErrorOnMidSyncProviderSwap(t *testing.T) {
	local := stub.New(testLocalAuthority)
	fx := newOrchestratorFixture(t, local, nil)

	const cloudAuthority = "com.example.cloud"
	hp := &hookedCloudProvider{authority: cloudAuthority, collectionID: "cloud-collection-1"}
	hp.onInfo = func() {
		if _, err := fx.cloudState.SetCloudProvider(context.Background(), "", true); err != nil {
			t.Errorf("simulated concurrent SetCloudProvider failed: %v", err)
		}
	}
	fx.registry.Register(model.ProviderInfo{Authority: cloudAuthority, PackageName: cloudAuthority}, hp)

	if ok, err := fx.cloudState.SetCloudProvider(context.Background(), cloudAuthority, false); err != nil || !ok {
		t.Fatalf("SetCloudProvider setup: ok=%v err=%v", ok, err)
	}

	ok, err := fx.orch.SyncAllMediaFromCloudProvider(context.Background())
	if err != nil {
		t.Fatalf("SyncAllMediaFromCloudProvider: unexpected error %v (request-obsolete must not escape)", err)
	}
	if ok {
		t.Fatal("SyncAllMediaFromCloudProvider: expected failure after mid-sync provider swap")
	}
}

// mismatchProvider always reports a media-collection id on Media/DeletedMedia
// that disagrees with what MediaCollectionInfo reported, tripping the
// paged engine's collection-id-changed-mid-run check every time. Used to
// exercise the one-reset-and-retry policy.
type mismatchProvider struct {
	authority    string
	collectionID string
}

func (m *mismatchProvider) Authority() string { return m.authority }

func (m *mismatchProvider) MediaCollectionInfo(ctx context.Context) (model.MediaCollectionInfo, error) {
	return model.MediaCollectionInfo{MediaCollectionID: m.collectionID, LastMediaSyncGeneration: 0}, nil
}

func (m *mismatchProvider) Media(ctx context.Context, args provider.QueryArgs) (provider.PageResult, error) {
	return provider.PageResult{
		Rows:              []provider.Row{{ID: "a"}},
		MediaCollectionID: "a-different-collection",
		HonoredArgs:       []string{"pageSize"},
	}, nil
}

func (m *mismatchProvider) DeletedMedia(ctx context.Context, args provider.QueryArgs) (provider.PageResult, error) {
	return m.Media(ctx, args)
}

func TestOrchestratorLocalSyncRetriesOnceThenGivesUp(t *testing.T) {
	local := &mismatchProvider{authority: testLocalAuthority, collectionID: testLocalAuthority + "-collection-1"}
	fx := newOrchestratorFixture(t, local, nil)

	ok, err := fx.orch.SyncAllMediaFromLocalProvider(context.Background())
	if err != nil {
		t.Fatalf("SyncAllMediaFromLocalProvider: unexpected error %v", err)
	}
	if ok {
		t.Fatal("expected failure: provider never honors the collection id it advertised")
	}

	cursor, err := fx.prefsStore.SyncCursor(context.Background(), prefs.LocalProvider)
	if err != nil {
		t.Fatalf("SyncCursor: %v", err)
	}
	if !cursor.Empty() {
		t.Fatalf("cursor = %+v, want cleared by the mid-retry reset", cursor)
	}
}
