// Package prefs implements the Preferences Accessor (spec §4.A): two flat
// key-value namespaces — user-prefs (cloud provider selection) and
// sync-prefs (per-provider cursors and resume tokens) — with atomic
// per-call writes and documented zero-value reads. Grounded in the
// teacher's key/value-ish cache_entries table shape (internal/core/cache.go)
// and index_meta table (internal/core/index.go), simplified to a single
// key/value table since neither namespace needs relational structure.
package prefs

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/pickersync/pickersync/internal/model"
)

// Namespace selects which provider's sync-prefs keys to read or write.
type Namespace int

const (
	LocalProvider Namespace = iota
	CloudProvider
)

func (n Namespace) prefix() string {
	if n == CloudProvider {
		return "cloud_provider:"
	}
	return "local_provider:"
}

const (
	userPrefCloudAuthority = "cloud_provider_authority"
	unsetSentinel          = "-"

	keyMediaCollectionID = "media_collection_id"
	keyLastSyncGen       = "last_media_sync_generation"
	keyMediaAddResume    = "media_add:resume"
	keyAlbumAddResume    = "album_add:resume"
	keyMediaRemoveResume = "media_remove:resume"
)

// Store is the Preferences contract the controller consumes.
type Store interface {
	// CloudProviderAuthority reads the persisted user-prefs selection.
	CloudProviderAuthority(ctx context.Context) (model.CloudProviderState, error)

	// SetCloudProviderAuthority persists state. Unset and NotSet both
	// clear the key from the caller's perspective, but Unset writes the
	// "-" sentinel while NotSet removes the key entirely (spec §6).
	SetCloudProviderAuthority(ctx context.Context, state model.CloudProviderState) error

	// SyncCursor reads the cached cursor for ns. A never-synced provider
	// returns model.SyncCursor{LastMediaSyncGeneration: -1}.
	SyncCursor(ctx context.Context, ns Namespace) (model.SyncCursor, error)

	// SetSyncCursor persists collection id and generation for ns.
	SetSyncCursor(ctx context.Context, ns Namespace, id string, generation int64) error

	// ClearSyncCursor clears the cached cursor and every resume token for
	// ns (invariant 4: resume tokens never outlive their collection).
	ClearSyncCursor(ctx context.Context, ns Namespace) error

	// ResumeToken reads the persisted page token for op under ns; ""
	// means start from scratch.
	ResumeToken(ctx context.Context, ns Namespace, op model.OperationKind) (string, error)

	// SetResumeToken persists token for op under ns; "" clears it.
	SetResumeToken(ctx context.Context, ns Namespace, op model.OperationKind, token string) error
}

// SQLiteStore is the reference Store implementation.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the preferences database at dbPath.
func Open(dbPath string, encryptionKey string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("prefs: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma_key=%s&_journal_mode=WAL&_synchronous=NORMAL", dbPath, encryptionKey)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("prefs: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prefs: connect: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS prefs (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("prefs: initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("prefs: read %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) put(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prefs (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("prefs: write %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM prefs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("prefs: delete %q: %w", key, err)
	}
	return nil
}

// CloudProviderAuthority implements Store.
func (s *SQLiteStore) CloudProviderAuthority(ctx context.Context) (model.CloudProviderState, error) {
	value, ok, err := s.get(ctx, userPrefCloudAuthority)
	if err != nil {
		return model.CloudProviderState{}, err
	}
	if !ok {
		return model.NotSetState(), nil
	}
	if value == unsetSentinel {
		return model.UnsetState(), nil
	}
	return model.SetState(model.ProviderInfo{Authority: value}), nil
}

// SetCloudProviderAuthority implements Store.
func (s *SQLiteStore) SetCloudProviderAuthority(ctx context.Context, state model.CloudProviderState) error {
	switch state.Kind {
	case model.NotSet:
		return s.delete(ctx, userPrefCloudAuthority)
	case model.Unset:
		return s.put(ctx, userPrefCloudAuthority, unsetSentinel)
	default:
		return s.put(ctx, userPrefCloudAuthority, state.Provider.Authority)
	}
}

// SyncCursor implements Store.
func (s *SQLiteStore) SyncCursor(ctx context.Context, ns Namespace) (model.SyncCursor, error) {
	p := ns.prefix()

	id, _, err := s.get(ctx, p+keyMediaCollectionID)
	if err != nil {
		return model.SyncCursor{}, err
	}

	generation := int64(-1)
	if raw, ok, err := s.get(ctx, p+keyLastSyncGen); err != nil {
		return model.SyncCursor{}, err
	} else if ok {
		if _, err := fmt.Sscanf(raw, "%d", &generation); err != nil {
			return model.SyncCursor{}, fmt.Errorf("prefs: parse %s: %w", p+keyLastSyncGen, err)
		}
	}

	mediaAdd, _, err := s.get(ctx, p+keyMediaAddResume)
	if err != nil {
		return model.SyncCursor{}, err
	}
	albumAdd, _, err := s.get(ctx, p+keyAlbumAddResume)
	if err != nil {
		return model.SyncCursor{}, err
	}
	mediaRemove, _, err := s.get(ctx, p+keyMediaRemoveResume)
	if err != nil {
		return model.SyncCursor{}, err
	}

	return model.SyncCursor{
		MediaCollectionID:       id,
		LastMediaSyncGeneration: generation,
		Resume: model.ResumeKeys{
			MediaAdd:    mediaAdd,
			AlbumAdd:    albumAdd,
			MediaRemove: mediaRemove,
		},
	}, nil
}

// SetSyncCursor implements Store.
func (s *SQLiteStore) SetSyncCursor(ctx context.Context, ns Namespace, id string, generation int64) error {
	p := ns.prefix()
	if err := s.put(ctx, p+keyMediaCollectionID, id); err != nil {
		return err
	}
	return s.put(ctx, p+keyLastSyncGen, fmt.Sprintf("%d", generation))
}

// ClearSyncCursor implements Store.
func (s *SQLiteStore) ClearSyncCursor(ctx context.Context, ns Namespace) error {
	p := ns.prefix()
	for _, key := range []string{keyMediaCollectionID, keyLastSyncGen, keyMediaAddResume, keyAlbumAddResume, keyMediaRemoveResume} {
		if err := s.delete(ctx, p+key); err != nil {
			return err
		}
	}
	return nil
}

func resumeKey(op model.OperationKind) (string, error) {
	switch op {
	case model.OpAddMedia:
		return keyMediaAddResume, nil
	case model.OpAddAlbum:
		return keyAlbumAddResume, nil
	case model.OpRemoveMedia:
		return keyMediaRemoveResume, nil
	default:
		return "", fmt.Errorf("prefs: unknown operation kind %v", op)
	}
}

// ResumeToken implements Store.
func (s *SQLiteStore) ResumeToken(ctx context.Context, ns Namespace, op model.OperationKind) (string, error) {
	key, err := resumeKey(op)
	if err != nil {
		return "", err
	}
	token, _, err := s.get(ctx, ns.prefix()+key)
	return token, err
}

// SetResumeToken implements Store.
func (s *SQLiteStore) SetResumeToken(ctx context.Context, ns Namespace, op model.OperationKind, token string) error {
	key, err := resumeKey(op)
	if err != nil {
		return err
	}
	full := ns.prefix() + key
	if token == "" {
		return s.delete(ctx, full)
	}
	return s.put(ctx, full, token)
}
