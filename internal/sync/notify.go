package sync

import (
	"context"
	"fmt"

	"github.com/pickersync/pickersync/internal/model"
)

// internalBaseURI is the fixed internal base every notification and the
// UI-refresh URI is built under (spec §4.G, §6).
const internalBaseURI = "pickersync://internal"

// RefreshPickerUIURI is notified on every cloud-provider change (spec §6).
const RefreshPickerUIURI = internalBaseURI + "/refresh-picker-ui"

// Notifier publishes a change-notification URI to UI observers, standing
// in for the platform content-observer mechanism spec §4.G and §6
// describe. Grounded on the teacher's small, single-purpose helpers
// (internal/core/cache.go's copyFile) — no shared state, one job.
type Notifier interface {
	Publish(ctx context.Context, uri string) error
}

// FuncNotifier adapts a plain function to Notifier, for tests and for
// wiring a CLI/log-only sink.
type FuncNotifier func(ctx context.Context, uri string) error

func (f FuncNotifier) Publish(ctx context.Context, uri string) error { return f(ctx, uri) }

// NopNotifier discards every notification.
var NopNotifier Notifier = FuncNotifier(func(context.Context, string) error { return nil })

// mediaUpdateURI builds the add_media / remove_media-without-album URI.
func mediaUpdateURI(dateTakenMs int64) string {
	return fmt.Sprintf("%s/update/media/%d", internalBaseURI, dateTakenMs)
}

// albumContentUpdateURI builds the add_album / remove_media-with-album URI.
func albumContentUpdateURI(albumID string, dateTakenMs int64) string {
	return fmt.Sprintf("%s/update/album_content/%s/%d", internalBaseURI, albumID, dateTakenMs)
}

// notificationURI builds the URI for a completed page of op against
// albumID (empty for non-album operations), per spec §4.G's table. The
// second return value is false when the operation kind emits no
// notification.
func notificationURI(op model.OperationKind, albumID string, dateTakenMs int64) (string, bool) {
	switch op {
	case model.OpAddMedia:
		return mediaUpdateURI(dateTakenMs), true
	case model.OpAddAlbum:
		return albumContentUpdateURI(albumID, dateTakenMs), true
	case model.OpRemoveMedia:
		if albumID != "" {
			return albumContentUpdateURI(albumID, dateTakenMs), true
		}
		return mediaUpdateURI(dateTakenMs), true
	default:
		return "", false
	}
}
