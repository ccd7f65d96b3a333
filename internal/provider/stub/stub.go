// Package stub is an in-memory reference MediaProvider implementation. It
// plays the role the teacher's rclone package described of itself — "the
// reference implementation" — but against the paged method-call contract
// in internal/provider rather than a file-transfer API, since a picker
// provider is queried, not copied to.
package stub

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/pickersync/pickersync/internal/model"
	"github.com/pickersync/pickersync/internal/provider"
)

// Item is one row held by the stub provider.
type Item struct {
	ID          string
	DateTakenMs int64
	Generation  int64
	AlbumID     string
	Deleted     bool
	Extra       map[string]any
}

// Provider is a thread-safe, in-memory MediaProvider. Tests seed it with
// Items and drive sync scenarios against it without any real cloud or
// local media store; the CLI registers an empty one as its local provider.
type Provider struct {
	mu                sync.RWMutex
	authority         string
	info              model.ProviderInfo
	mediaCollectionID string
	generation        int64
	items             []Item
}

// New creates a stub provider for authority, with an initial collection id
// derived from the authority so distinct stub instances never collide.
func New(authority string) *Provider {
	return &Provider{
		authority:         authority,
		info:              model.ProviderInfo{Authority: authority},
		mediaCollectionID: authority + "-collection-1",
	}
}

// NewWithInfo creates a stub provider carrying a full ProviderInfo, for
// cloud providers that need PackageName/UID beyond the bare authority.
func NewWithInfo(info model.ProviderInfo) *Provider {
	return &Provider{
		authority:         info.Authority,
		info:              info,
		mediaCollectionID: info.Authority + "-collection-1",
	}
}

// Authority implements provider.MediaProvider.
func (p *Provider) Authority() string { return p.authority }

// Info implements provider.InfoProvider.
func (p *Provider) Info() model.ProviderInfo { return p.info }

// Put inserts or replaces an item and bumps the collection generation,
// simulating a remote write the controller will observe on its next sync.
func (p *Provider) Put(item Item) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	item.Generation = p.generation
	item.Deleted = false

	for i := range p.items {
		if p.items[i].ID == item.ID {
			p.items[i] = item
			return
		}
	}
	p.items = append(p.items, item)
}

// Tombstone marks id deleted as of the next generation, without removing it
// from the in-memory slice — deletedMedia() queries still need to see it.
func (p *Provider) Tombstone(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	for i := range p.items {
		if p.items[i].ID == id {
			p.items[i].Deleted = true
			p.items[i].Generation = p.generation
			return
		}
	}
}

// ResetCollection simulates the provider discarding its collection and
// starting a fresh one — the trigger for the planner's Full verdict
// (spec §4.D).
func (p *Provider) ResetCollection(newCollectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mediaCollectionID = newCollectionID
	p.generation = 0
	p.items = nil
}

// MediaCollectionInfo implements provider.MediaProvider.
func (p *Provider) MediaCollectionInfo(ctx context.Context) (model.MediaCollectionInfo, error) {
	select {
	case <-ctx.Done():
		return model.MediaCollectionInfo{}, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return model.MediaCollectionInfo{
		MediaCollectionID:       p.mediaCollectionID,
		LastMediaSyncGeneration: p.generation,
	}, nil
}

// Media implements provider.MediaProvider: returns one page of non-deleted
// items with generation > args.SyncGeneration (or all items if
// !args.HasGeneration), optionally filtered to AlbumID.
func (p *Provider) Media(ctx context.Context, args provider.QueryArgs) (provider.PageResult, error) {
	return p.query(ctx, args, false)
}

// DeletedMedia implements provider.MediaProvider: same paging as Media but
// restricted to tombstoned items.
func (p *Provider) DeletedMedia(ctx context.Context, args provider.QueryArgs) (provider.PageResult, error) {
	return p.query(ctx, args, true)
}

func (p *Provider) query(ctx context.Context, args provider.QueryArgs, deletedOnly bool) (provider.PageResult, error) {
	select {
	case <-ctx.Done():
		return provider.PageResult{}, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	matched := make([]Item, 0, len(p.items))
	for _, it := range p.items {
		if it.Deleted != deletedOnly {
			continue
		}
		if args.HasGeneration && it.Generation <= args.SyncGeneration {
			continue
		}
		if args.AlbumID != "" && it.AlbumID != args.AlbumID {
			continue
		}
		matched = append(matched, it)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	offset := 0
	if args.PageToken != "" {
		parsed, err := strconv.Atoi(args.PageToken)
		if err != nil || parsed < 0 {
			return provider.PageResult{}, fmt.Errorf("stub provider: invalid page token %q", args.PageToken)
		}
		offset = parsed
	}

	pageSize := args.PageSize
	if pageSize <= 0 {
		pageSize = len(matched)
	}

	end := offset + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	var page []Item
	if offset < len(matched) {
		page = matched[offset:end]
	}

	rows := make([]provider.Row, 0, len(page))
	for _, it := range page {
		rows = append(rows, provider.Row{ID: it.ID, DateTakenMs: it.DateTakenMs, Extra: it.Extra})
	}

	nextToken := ""
	if end < len(matched) {
		nextToken = strconv.Itoa(end)
	}

	honored := []string{"pageSize"}
	if args.HasGeneration {
		honored = append(honored, "syncGeneration")
	}
	if args.AlbumID != "" {
		honored = append(honored, "albumId")
	}

	return provider.PageResult{
		Rows:              rows,
		MediaCollectionID: p.mediaCollectionID,
		NextPageToken:     nextToken,
		HonoredArgs:       honored,
	}, nil
}
