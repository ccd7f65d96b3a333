package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pickersync/pickersync/internal/dbfacade"
	"github.com/pickersync/pickersync/internal/model"
	"github.com/pickersync/pickersync/internal/prefs"
	"github.com/pickersync/pickersync/internal/provider"
	"github.com/pickersync/pickersync/internal/provider/stub"
)

func newPagedEngineFixture(t *testing.T) (*PagedEngine, dbfacade.Facade, prefs.Store) {
	t.Helper()

	dir, err := os.MkdirTemp("", "pickersync-pagedengine-*")
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

	return NewPagedEngine(prefsStore, nil, nil), facade, prefsStore
}

func TestPagedEngineRunPaginatesAcrossMultiplePages(t *testing.T) {
	engine, facade, _ := newPagedEngineFixture(t)

	mp := stub.New("com.example.local")
	for i := 0; i < 5; i++ {
		mp.Put(stub.Item{ID: string(rune('a' + i)), DateTakenMs: int64(i)})
	}

	run := PagedRun{
		Namespace:            prefs.LocalProvider,
		ResumeOp:             model.OpAddMedia,
		NotifyOp:             model.OpAddMedia,
		PageSize:             2,
		EnforcePaging:        true,
		RequireCollectionID:  true,
		ExpectedCollectionID: "com.example.local-collection-1",
	}
	beginOp := func(ctx context.Context) (dbfacade.WriteOperation, error) {
		return facade.BeginAddMediaOperation(ctx, mp.Authority())
	}

	total, err := engine.Run(context.Background(), run, mp.Media, beginOp)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
}

func TestPagedEngineResumesFromPersistedToken(t *testing.T) {
	engine, facade, prefsStore := newPagedEngineFixture(t)

	mp := stub.New("com.example.local")
	for i := 0; i < 4; i++ {
		mp.Put(stub.Item{ID: string(rune('a' + i)), DateTakenMs: int64(i)})
	}

	if err := prefsStore.SetResumeToken(context.Background(), prefs.LocalProvider, model.OpAddMedia, "2"); err != nil {
		t.Fatalf("SetResumeToken: %v", err)
	}

	run := PagedRun{
		Namespace:            prefs.LocalProvider,
		ResumeOp:             model.OpAddMedia,
		NotifyOp:             model.OpAddMedia,
		PageSize:             10,
		EnforcePaging:        true,
		RequireCollectionID:  true,
		ExpectedCollectionID: "com.example.local-collection-1",
	}
	beginOp := func(ctx context.Context) (dbfacade.WriteOperation, error) {
		return facade.BeginAddMediaOperation(ctx, mp.Authority())
	}

	total, err := engine.Run(context.Background(), run, mp.Media, beginOp)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2 (resumed past first 2 items)", total)
	}
}

func TestPagedEngineRejectsUnhonoredPageSize(t *testing.T) {
	engine, facade, _ := newPagedEngineFixture(t)

	mp := stub.New("com.example.local")
	mp.Put(stub.Item{ID: "a", DateTakenMs: 1})

	run := PagedRun{
		Namespace:     prefs.LocalProvider,
		ResumeOp:      model.OpAddMedia,
		NotifyOp:      model.OpAddMedia,
		PageSize:      1,
		EnforcePaging: true,
	}
	beginOp := func(ctx context.Context) (dbfacade.WriteOperation, error) {
		return facade.BeginAddMediaOperation(ctx, mp.Authority())
	}
	// query function that never honors pageSize
	query := func(ctx context.Context, args provider.QueryArgs) (provider.PageResult, error) {
		return provider.PageResult{Rows: []provider.Row{{ID: "a"}}, HonoredArgs: nil}, nil
	}

	_, err := engine.Run(context.Background(), run, query, beginOp)
	if !errors.Is(err, ErrIllegalState) {
		t.Fatalf("err = %v, want ErrIllegalState", err)
	}
}

func TestPagedEngineRejectsRepeatedPageToken(t *testing.T) {
	engine, facade, _ := newPagedEngineFixture(t)

	beginOp := func(ctx context.Context) (dbfacade.WriteOperation, error) {
		return facade.BeginAddMediaOperation(ctx, "com.example.local")
	}
	calls := 0
	query := func(ctx context.Context, args provider.QueryArgs) (provider.PageResult, error) {
		calls++
		return provider.PageResult{
			Rows:              []provider.Row{{ID: "a"}},
			HonoredArgs:       []string{"pageSize"},
			NextPageToken:     "same-token",
		}, nil
	}

	run := PagedRun{
		Namespace:     prefs.LocalProvider,
		ResumeOp:      model.OpAddMedia,
		NotifyOp:      model.OpAddMedia,
		PageSize:      1,
		EnforcePaging: true,
	}

	_, err := engine.Run(context.Background(), run, query, beginOp)
	if !errors.Is(err, ErrIllegalState) {
		t.Fatalf("err = %v, want ErrIllegalState", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (first page, then detect repeat on second)", calls)
	}
}

func TestPagedEngineRejectsCollectionIDChangeMidRun(t *testing.T) {
	engine, facade, _ := newPagedEngineFixture(t)

	beginOp := func(ctx context.Context) (dbfacade.WriteOperation, error) {
		return facade.BeginAddMediaOperation(ctx, "com.example.local")
	}
	query := func(ctx context.Context, args provider.QueryArgs) (provider.PageResult, error) {
		return provider.PageResult{
			Rows:              []provider.Row{{ID: "a"}},
			MediaCollectionID: "unexpected-collection",
			HonoredArgs:       []string{"pageSize"},
		}, nil
	}

	run := PagedRun{
		Namespace:            prefs.LocalProvider,
		ResumeOp:             model.OpAddMedia,
		NotifyOp:             model.OpAddMedia,
		PageSize:             1,
		EnforcePaging:        true,
		RequireCollectionID:  true,
		ExpectedCollectionID: "expected-collection",
	}

	_, err := engine.Run(context.Background(), run, query, beginOp)
	if !errors.Is(err, ErrIllegalState) {
		t.Fatalf("err = %v, want ErrIllegalState", err)
	}
}
