// Package provider defines the media-provider contract the sync controller
// consumes, and an allow-list aware registry of installed providers.
package provider

import (
	"context"

	"github.com/pickersync/pickersync/internal/model"
)

// Row is a single media record returned by a paged provider query. The
// sync controller only inspects DateTakenMs (for notification payloads,
// spec §4.G) and persists the rest opaquely through the DB facade.
type Row struct {
	ID          string
	DateTakenMs int64
	Extra       map[string]any
}

// QueryArgs are the optional query parameters the controller may pass to
// a media() or deletedMedia() query, per spec §6.
type QueryArgs struct {
	PageToken      string
	PageSize       int
	SyncGeneration int64
	HasGeneration  bool
	AlbumID        string
}

// PageResult is the row set plus extras a paged query returns.
type PageResult struct {
	Rows              []Row
	MediaCollectionID string
	NextPageToken     string // "" means no more pages
	HonoredArgs       []string
}

// MediaProvider is the contract a local or cloud media-provider backend
// exposes to the controller (spec §6).
type MediaProvider interface {
	// Authority returns the provider's globally unique authority string.
	Authority() string

	// MediaCollectionInfo fetches the provider's current collection
	// snapshot via its well-known collection-info call.
	MediaCollectionInfo(ctx context.Context) (model.MediaCollectionInfo, error)

	// Media queries the provider's media URI for one page of added or
	// modified items.
	Media(ctx context.Context, args QueryArgs) (PageResult, error)

	// DeletedMedia queries the provider's deletedMedia URI for one page
	// of removed items.
	DeletedMedia(ctx context.Context, args QueryArgs) (PageResult, error)
}

// InfoProvider is implemented by providers that carry a full identity
// record (package name, uid) beyond their authority string.
type InfoProvider interface {
	Info() model.ProviderInfo
}
