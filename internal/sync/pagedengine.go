package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/pickersync/pickersync/internal/dbfacade"
	"github.com/pickersync/pickersync/internal/model"
	"github.com/pickersync/pickersync/internal/prefs"
	"github.com/pickersync/pickersync/internal/provider"
)

// queryFunc is either mp.Media or mp.DeletedMedia, selected by the caller
// per spec §4.E's add-phase / remove-phase distinction.
type queryFunc func(ctx context.Context, args provider.QueryArgs) (provider.PageResult, error)

// beginOpFunc opens the DB facade's scoped write handle for one page,
// already bound to the right operation flavor and album id.
type beginOpFunc func(ctx context.Context) (dbfacade.WriteOperation, error)

// PagedRun describes one resumable paged operation: which provider query
// to drive, which DB write-operation flavor to open per page, and which
// arguments the provider must honor.
type PagedRun struct {
	Namespace             prefs.Namespace
	ResumeOp              model.OperationKind // which resume-key slot this run checkpoints into
	NotifyOp              model.OperationKind // which notification shape a committed page emits
	AlbumID               string
	PageSize              int
	EnforcePaging         bool
	HasSyncGeneration     bool
	SyncGeneration        int64
	ExpectedCollectionID  string
	RequireCollectionID   bool
}

// PagedEngine executes paged provider queries, validates cursors, writes
// through the DB facade per page, checkpoints resume tokens, and emits
// notifications (spec §4.E). Grounded on the teacher's JournalManager
// scoped begin/commit/rollback and DeleteCoordinator's loop-with-partial-
// failure-tracking shape (lock held for the whole scoped operation,
// per-item result folded into a running total).
type PagedEngine struct {
	prefsStore prefs.Store
	notifier   Notifier
	logger     *zap.Logger
}

// NewPagedEngine constructs a PagedEngine.
func NewPagedEngine(prefsStore prefs.Store, notifier Notifier, logger *zap.Logger) *PagedEngine {
	if notifier == nil {
		notifier = NopNotifier
	}
	return &PagedEngine{prefsStore: prefsStore, notifier: notifier, logger: logger}
}

// Run drives run to completion, returning the total row count written
// across all pages.
func (e *PagedEngine) Run(ctx context.Context, run PagedRun, query queryFunc, beginOp beginOpFunc) (int, error) {
	pageToken, err := e.prefsStore.ResumeToken(ctx, run.Namespace, run.ResumeOp)
	if err != nil {
		return 0, wrap(ErrTransientRuntime, "read resume token", err)
	}

	seen := map[string]bool{}
	total := 0

	for {
		args := provider.QueryArgs{
			PageToken: pageToken,
			PageSize:  run.PageSize,
			AlbumID:   run.AlbumID,
		}
		if run.HasSyncGeneration {
			args.SyncGeneration = run.SyncGeneration
			args.HasGeneration = true
		}

		op, err := beginOp(ctx)
		if err != nil {
			return total, wrap(ErrDbOperationUnopenable, "open write operation", err)
		}

		result, err := query(ctx, args)
		if err != nil {
			op.Close()
			return total, wrap(ErrTransientRuntime, "query provider page", err)
		}

		if err := e.validate(run, result, seen); err != nil {
			op.Close()
			return total, err
		}

		rowCount, err := op.Execute(ctx, result.Rows)
		if err != nil {
			op.Close()
			return total, wrap(ErrTransientRuntime, "write page", err)
		}

		var dateTakenMs int64
		haveDateTaken := len(result.Rows) > 0
		if haveDateTaken {
			dateTakenMs = result.Rows[0].DateTakenMs
		}

		op.SetSuccess()
		if err := op.Close(); err != nil {
			return total, wrap(ErrTransientRuntime, "commit page", err)
		}

		total += rowCount

		if err := e.prefsStore.SetResumeToken(ctx, run.Namespace, run.ResumeOp, result.NextPageToken); err != nil {
			return total, wrap(ErrTransientRuntime, "persist resume token", err)
		}

		if haveDateTaken {
			if uri, ok := notificationURI(run.NotifyOp, run.AlbumID, dateTakenMs); ok {
				if err := e.notifier.Publish(ctx, uri); err != nil && e.logger != nil {
					e.logger.Warn("page notification failed", zap.String("uri", uri), zap.Error(err))
				}
			}
		}

		if result.NextPageToken == "" {
			return total, nil
		}
		if seen[result.NextPageToken] {
			return total, wrap(ErrIllegalState, "provider returned a repeated page token", nil)
		}
		seen[result.NextPageToken] = true
		pageToken = result.NextPageToken
	}
}

func (e *PagedEngine) validate(run PagedRun, result provider.PageResult, seen map[string]bool) error {
	if run.RequireCollectionID && result.MediaCollectionID != run.ExpectedCollectionID {
		return wrap(ErrIllegalState, "media collection id changed mid-run", nil)
	}

	honored := map[string]bool{}
	for _, h := range result.HonoredArgs {
		honored[h] = true
	}

	if run.EnforcePaging && !honored["pageSize"] {
		return wrap(ErrIllegalState, "provider did not honor pageSize", nil)
	}
	if run.HasSyncGeneration && !honored["syncGeneration"] {
		return wrap(ErrIllegalState, "provider did not honor syncGeneration", nil)
	}
	if run.AlbumID != "" && !honored["albumId"] {
		return wrap(ErrIllegalState, "provider did not honor albumId", nil)
	}

	if result.NextPageToken != "" && seen[result.NextPageToken] {
		return wrap(ErrIllegalState, "provider returned a repeated page token", nil)
	}

	return nil
}
