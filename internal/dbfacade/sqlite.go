package dbfacade

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/pickersync/pickersync/internal/model"
	"github.com/pickersync/pickersync/internal/provider"
)

const schema = `
CREATE TABLE IF NOT EXISTS media_rows (
    authority     TEXT NOT NULL,
    item_id       TEXT NOT NULL,
    date_taken_ms INTEGER NOT NULL DEFAULT 0,
    album_id      TEXT NOT NULL DEFAULT '',
    deleted       INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (authority, album_id, item_id)
);
CREATE INDEX IF NOT EXISTS idx_media_rows_authority ON media_rows(authority);

CREATE TABLE IF NOT EXISTS journal (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id   TEXT NOT NULL UNIQUE,
    operation_type TEXT NOT NULL,
    authority      TEXT NOT NULL,
    state          TEXT NOT NULL DEFAULT 'pending'
                   CHECK(state IN ('pending', 'committed', 'rolled_back')),
    created_at     TEXT NOT NULL DEFAULT (datetime('now')),
    completed_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_journal_state ON journal(state);

CREATE TABLE IF NOT EXISTS provider_audit (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    from_authority TEXT NOT NULL DEFAULT '',
    to_authority   TEXT NOT NULL DEFAULT '',
    changed_at     TEXT NOT NULL DEFAULT (datetime('now')),
    actor          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS facade_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const cloudAuthorityKey = "cloud_authority"

// SQLiteFacade is the reference Facade implementation, backed by an
// encrypted SQLite database opened through go-sqlcipher, following the
// teacher's IndexManager (schema-in-a-string Initialize, mutex-guarded
// *sql.DB) and JournalManager (per-operation journal rows) pattern.
type SQLiteFacade struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the picker database at dbPath, encrypted with
// encryptionKey, and ensures the schema exists.
func Open(dbPath string, encryptionKey string) (*SQLiteFacade, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("dbfacade: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma_key=%s&_journal_mode=WAL&_synchronous=NORMAL", dbPath, encryptionKey)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbfacade: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbfacade: connect: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbfacade: initialize schema: %w", err)
	}

	return &SQLiteFacade{db: db}, nil
}

// Close closes the underlying database connection.
func (f *SQLiteFacade) Close() error {
	return f.db.Close()
}

// SetCloudProvider implements Facade.
func (f *SQLiteFacade) SetCloudProvider(ctx context.Context, authority string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, err := f.db.ExecContext(ctx, `
		INSERT INTO facade_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, cloudAuthorityKey, authority)
	if err != nil {
		return fmt.Errorf("dbfacade: set cloud provider: %w", err)
	}
	return nil
}

// CurrentCloudAuthority implements Facade.
func (f *SQLiteFacade) CurrentCloudAuthority(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var authority string
	err := f.db.QueryRowContext(ctx, `SELECT value FROM facade_meta WHERE key = ?`, cloudAuthorityKey).Scan(&authority)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dbfacade: current cloud authority: %w", err)
	}
	return authority, nil
}

// RecordProviderChange implements Facade.
func (f *SQLiteFacade) RecordProviderChange(ctx context.Context, from, to model.ProviderInfo, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, err := f.db.ExecContext(ctx, `
		INSERT INTO provider_audit (from_authority, to_authority, actor) VALUES (?, ?, ?)
	`, from.Authority, to.Authority, actor)
	if err != nil {
		return fmt.Errorf("dbfacade: record provider change: %w", err)
	}
	return nil
}

// AuditLog implements Facade.
func (f *SQLiteFacade) AuditLog(ctx context.Context, limit int) ([]ProviderAuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := f.db.QueryContext(ctx, `
		SELECT from_authority, to_authority, changed_at, actor
		FROM provider_audit ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("dbfacade: audit log: %w", err)
	}
	defer rows.Close()

	var out []ProviderAuditEntry
	for rows.Next() {
		var e ProviderAuditEntry
		if err := rows.Scan(&e.FromAuthority, &e.ToAuthority, &e.ChangedAt, &e.Actor); err != nil {
			return nil, fmt.Errorf("dbfacade: scan audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (f *SQLiteFacade) beginOperation(ctx context.Context, kind model.OperationKind, authority, albumID string, reset bool) (WriteOperation, error) {
	opID := uuid.New().String()

	f.mu.Lock()
	defer f.mu.Unlock()

	// The journal row is written outside the page's transaction, so it
	// survives a rollback or a crash and stays 'pending' until Close
	// records the outcome.
	if _, err := f.db.ExecContext(ctx, `
		INSERT INTO journal (operation_id, operation_type, authority) VALUES (?, ?, ?)
	`, opID, kind.String(), authority); err != nil {
		return nil, fmt.Errorf("dbfacade: journal operation: %w", err)
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("dbfacade: begin operation: %w", err)
	}

	return &writeOperation{
		db:        f.db,
		tx:        tx,
		opID:      opID,
		kind:      kind,
		authority: authority,
		albumID:   albumID,
		reset:     reset,
	}, nil
}

// BeginAddMediaOperation implements Facade.
func (f *SQLiteFacade) BeginAddMediaOperation(ctx context.Context, authority string) (WriteOperation, error) {
	return f.beginOperation(ctx, model.OpAddMedia, authority, "", false)
}

// BeginAddAlbumMediaOperation implements Facade.
func (f *SQLiteFacade) BeginAddAlbumMediaOperation(ctx context.Context, authority, albumID string) (WriteOperation, error) {
	return f.beginOperation(ctx, model.OpAddAlbum, authority, albumID, false)
}

// BeginRemoveMediaOperation implements Facade.
func (f *SQLiteFacade) BeginRemoveMediaOperation(ctx context.Context, authority string) (WriteOperation, error) {
	return f.beginOperation(ctx, model.OpRemoveMedia, authority, "", false)
}

// BeginResetMediaOperation implements Facade.
func (f *SQLiteFacade) BeginResetMediaOperation(ctx context.Context, authority string) (WriteOperation, error) {
	return f.beginOperation(ctx, model.OpAddMedia, authority, "", true)
}

// BeginResetAlbumMediaOperation implements Facade. albumID == "" resets
// every album for authority.
func (f *SQLiteFacade) BeginResetAlbumMediaOperation(ctx context.Context, authority, albumID string) (WriteOperation, error) {
	return f.beginOperation(ctx, model.OpAddAlbum, authority, albumID, true)
}

// writeOperation is the scoped transactional handle returned by every
// Begin*Operation call. One handle backs exactly one page, per spec §4.E.b
// ("open a new DB write operation" per page).
type writeOperation struct {
	db        *sql.DB
	tx        *sql.Tx
	opID      string
	kind      model.OperationKind
	authority string
	albumID   string
	reset     bool

	mu        sync.Mutex
	succeeded bool
	closed    bool
}

// Execute implements WriteOperation.
func (w *writeOperation) Execute(ctx context.Context, rows []provider.Row) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrOperationClosed
	}

	if w.reset {
		if w.albumID != "" {
			if _, err := w.tx.ExecContext(ctx, `DELETE FROM media_rows WHERE authority = ? AND album_id = ?`, w.authority, w.albumID); err != nil {
				return 0, fmt.Errorf("dbfacade: reset album rows: %w", err)
			}
		} else if w.kind == model.OpAddAlbum {
			if _, err := w.tx.ExecContext(ctx, `DELETE FROM media_rows WHERE authority = ? AND album_id != ''`, w.authority); err != nil {
				return 0, fmt.Errorf("dbfacade: reset album rows: %w", err)
			}
		} else {
			if _, err := w.tx.ExecContext(ctx, `DELETE FROM media_rows WHERE authority = ?`, w.authority); err != nil {
				return 0, fmt.Errorf("dbfacade: reset rows: %w", err)
			}
		}
	}

	stmt, err := w.tx.PrepareContext(ctx, `
		INSERT INTO media_rows (authority, item_id, date_taken_ms, album_id, deleted) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(authority, album_id, item_id) DO UPDATE SET
			date_taken_ms = excluded.date_taken_ms, deleted = excluded.deleted
	`)
	if err != nil {
		return 0, fmt.Errorf("dbfacade: prepare write: %w", err)
	}
	defer stmt.Close()

	deleted := 0
	if w.kind == model.OpRemoveMedia {
		deleted = 1
	}

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, w.authority, r.ID, r.DateTakenMs, w.albumID, deleted); err != nil {
			return 0, fmt.Errorf("dbfacade: write row %q: %w", r.ID, err)
		}
	}

	return len(rows), nil
}

// SetSuccess implements WriteOperation.
func (w *writeOperation) SetSuccess() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.succeeded = true
	}
}

// Close implements WriteOperation.
func (w *writeOperation) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	state := "rolled_back"
	var txErr error
	if w.succeeded {
		state = "committed"
		txErr = w.tx.Commit()
	} else {
		txErr = w.tx.Rollback()
	}

	if _, err := w.db.Exec(`UPDATE journal SET state = ?, completed_at = datetime('now') WHERE operation_id = ?`, state, w.opID); err != nil {
		if txErr == nil {
			return fmt.Errorf("dbfacade: update journal: %w", err)
		}
	}

	if txErr != nil {
		return fmt.Errorf("dbfacade: close write operation: %w", txErr)
	}
	return nil
}
