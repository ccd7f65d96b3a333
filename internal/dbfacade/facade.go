// Package dbfacade defines the PickerDbFacade contract (spec §6) the sync
// controller writes through, plus a SQLCipher-backed reference
// implementation. The facade is the only component that knows the picker
// database's storage schema.
package dbfacade

import (
	"context"
	"errors"

	"github.com/pickersync/pickersync/internal/model"
	"github.com/pickersync/pickersync/internal/provider"
)

// ErrOperationClosed is returned by Execute on a write operation whose
// scope has already exited. SetSuccess on such an operation has no effect.
var ErrOperationClosed = errors.New("dbfacade: write operation already closed")

// WriteOperation is a scoped, transactional write handle. Its release
// without an explicit SetSuccess call rolls back everything it wrote —
// the same try-with-resources contract the teacher's JournalManager and
// DeleteCoordinator follow.
type WriteOperation interface {
	// Execute applies one page of rows and returns the row count written.
	Execute(ctx context.Context, rows []provider.Row) (int, error)

	// SetSuccess marks the operation for commit. Must be called before
	// Close for the writes to persist.
	SetSuccess()

	// Close commits on success, rolls back otherwise. Idempotent.
	Close() error
}

// Facade is the PickerDbFacade contract (spec §6).
type Facade interface {
	// SetCloudProvider atomically switches cloud-row visibility. authority
	// == "" disables cloud queries (the facade's "null" state).
	SetCloudProvider(ctx context.Context, authority string) error

	// CurrentCloudAuthority returns the facade's own cloud-visibility
	// authority (invariant 2, spec §3) — "" means disabled.
	CurrentCloudAuthority(ctx context.Context) (string, error)

	BeginAddMediaOperation(ctx context.Context, authority string) (WriteOperation, error)
	BeginAddAlbumMediaOperation(ctx context.Context, authority, albumID string) (WriteOperation, error)
	BeginRemoveMediaOperation(ctx context.Context, authority string) (WriteOperation, error)
	BeginResetMediaOperation(ctx context.Context, authority string) (WriteOperation, error)
	BeginResetAlbumMediaOperation(ctx context.Context, authority, albumID string) (WriteOperation, error)

	// RecordProviderChange appends a row to the provider-change audit log
	// (SPEC_FULL §12), read back through Diagnostics.
	RecordProviderChange(ctx context.Context, from, to model.ProviderInfo, actor string) error

	// AuditLog returns the provider-change audit rows, most recent first.
	AuditLog(ctx context.Context, limit int) ([]ProviderAuditEntry, error)

	Close() error
}

// ProviderAuditEntry is one row of the provider-change audit log.
type ProviderAuditEntry struct {
	FromAuthority string
	ToAuthority   string
	ChangedAt     string
	Actor         string
}
