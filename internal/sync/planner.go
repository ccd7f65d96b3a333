package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/pickersync/pickersync/internal/model"
	"github.com/pickersync/pickersync/internal/provider"
)

// Planner computes the sync verdict for one provider by comparing its
// latest MediaCollectionInfo against the cached cursor (spec §4.D).
// Grounded on other_examples' onedrive-go sync-types file: its Item's
// Synced* fields representing "cursor at last successful sync" compared
// against freshly fetched remote state is the same three-way comparison
// shape (id match / generation match / neither) used here.
type Planner struct {
	logger *zap.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(logger *zap.Logger) *Planner {
	return &Planner{logger: logger}
}

// Plan decides the verdict for mp against cached. authority == "" means
// the provider slot is empty (always legal for the cloud provider, never
// for local) and short-circuits to Reset per spec §4.D.1.
//
// recheckActive, when non-nil, is invoked immediately after fetching the
// provider's latest collection info, under the cloud-provider lock, to
// detect a provider swap that happened mid-plan; it should return
// ErrRequestObsolete if the authority being planned for is no longer
// active.
func (p *Planner) Plan(ctx context.Context, authority string, mp provider.MediaProvider, cached model.SyncCursor, pageSize int, recheckActive func() error) (model.SyncRequestParams, error) {
	if authority == "" {
		return model.SyncRequestParams{Verdict: model.VerdictReset, PageSize: pageSize}, nil
	}

	latest, err := mp.MediaCollectionInfo(ctx)
	if err != nil {
		return model.SyncRequestParams{}, wrap(ErrTransientRuntime, "fetch media collection info", err)
	}

	if recheckActive != nil {
		if err := recheckActive(); err != nil {
			return model.SyncRequestParams{}, err
		}
	}

	if !latest.IsValid() {
		return model.SyncRequestParams{}, wrap(ErrIllegalState, "provider returned invalid media collection info", nil)
	}

	params := model.SyncRequestParams{Latest: latest, PageSize: pageSize}

	switch {
	case latest.MediaCollectionID != cached.MediaCollectionID:
		params.Verdict = model.VerdictFull
	case latest.LastMediaSyncGeneration == cached.LastMediaSyncGeneration:
		params.Verdict = model.VerdictNone
	default:
		params.Verdict = model.VerdictIncremental
		params.FromGeneration = cached.LastMediaSyncGeneration
	}

	if p.logger != nil {
		p.logger.Info("sync plan decided",
			zap.String("authority", authority),
			zap.String("verdict", params.Verdict.String()),
		)
	}

	return params, nil
}
