package sync

import (
	"context"

	"github.com/pickersync/pickersync/internal/dbfacade"
	"github.com/pickersync/pickersync/internal/model"
	"github.com/pickersync/pickersync/internal/prefs"
	"github.com/pickersync/pickersync/internal/provider"
)

// Report is the ordered state dump spec §4.H specifies: local authority,
// current cloud ProviderInfo, full available-cloud-provider list, the raw
// persisted cloud authority string, and the cached collection-infos for
// local and cloud. Grounded on the teacher's dashboard.go (read-only
// aggregation across managers into one report struct).
type Report struct {
	LocalAuthority             string                     `json:"localAuthority"`
	CurrentCloudProvider       model.ProviderInfo         `json:"currentCloudProvider"`
	AvailableCloudProviders    []model.ProviderInfo       `json:"availableCloudProviders"`
	RawPersistedCloudAuthority string                     `json:"rawPersistedCloudAuthority"`
	LocalCollectionInfo        model.MediaCollectionInfo  `json:"localCollectionInfo"`
	CloudCollectionInfo        model.MediaCollectionInfo  `json:"cloudCollectionInfo"`
	AuditLog                   []dbfacade.ProviderAuditEntry `json:"auditLog"`
}

// Diagnostics produces Report snapshots on demand. It never mutates state.
type Diagnostics struct {
	localAuthority string
	cloudState     *CloudState
	registry       *provider.Registry
	prefsStore     prefs.Store
	facade         dbfacade.Facade
}

// NewDiagnostics constructs a Diagnostics reader.
func NewDiagnostics(localAuthority string, cloudState *CloudState, registry *provider.Registry, prefsStore prefs.Store, facade dbfacade.Facade) *Diagnostics {
	return &Diagnostics{
		localAuthority: localAuthority,
		cloudState:     cloudState,
		registry:       registry,
		prefsStore:     prefsStore,
		facade:         facade,
	}
}

// rawCloudAuthorityString renders state in the three-way on-disk encoding
// (spec §6): absent, "-", or the authority.
func rawCloudAuthorityString(state model.CloudProviderState) string {
	switch state.Kind {
	case model.Unset:
		return "-"
	case model.Set:
		return state.Provider.Authority
	default:
		return ""
	}
}

// Dump implements spec §4.H, in the specified order.
func (d *Diagnostics) Dump(ctx context.Context) (Report, error) {
	persisted, err := d.prefsStore.CloudProviderAuthority(ctx)
	if err != nil {
		return Report{}, wrap(ErrTransientRuntime, "read persisted cloud provider for diagnostics", err)
	}

	localCursor, err := d.prefsStore.SyncCursor(ctx, prefs.LocalProvider)
	if err != nil {
		return Report{}, wrap(ErrTransientRuntime, "read local sync cursor for diagnostics", err)
	}
	cloudCursor, err := d.prefsStore.SyncCursor(ctx, prefs.CloudProvider)
	if err != nil {
		return Report{}, wrap(ErrTransientRuntime, "read cloud sync cursor for diagnostics", err)
	}

	audit, err := d.facade.AuditLog(ctx, 20)
	if err != nil {
		return Report{}, wrap(ErrTransientRuntime, "read audit log for diagnostics", err)
	}

	return Report{
		LocalAuthority:             d.localAuthority,
		CurrentCloudProvider:       d.cloudState.GetCloudProvider(),
		AvailableCloudProviders:    d.registry.AllAvailable(),
		RawPersistedCloudAuthority: rawCloudAuthorityString(persisted),
		LocalCollectionInfo: model.MediaCollectionInfo{
			MediaCollectionID:       localCursor.MediaCollectionID,
			LastMediaSyncGeneration: localCursor.LastMediaSyncGeneration,
		},
		CloudCollectionInfo: model.MediaCollectionInfo{
			MediaCollectionID:       cloudCursor.MediaCollectionID,
			LastMediaSyncGeneration: cloudCursor.LastMediaSyncGeneration,
		},
		AuditLog: audit,
	}, nil
}
