package sync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pickersync/pickersync/internal/config"
	"github.com/pickersync/pickersync/internal/dbfacade"
	"github.com/pickersync/pickersync/internal/model"
	"github.com/pickersync/pickersync/internal/prefs"
	"github.com/pickersync/pickersync/internal/provider"
)

// CloudState tracks the active cloud provider in memory, persists changes,
// and notifies observers (spec §4.C). The cloud-provider lock is this
// struct's own mutex: every exported method acquires and releases it
// internally and never calls back into the orchestrator's cloud-sync
// lock, so the "cloud-sync before cloud-provider" ordering (spec §5)
// can never be violated from this side. Grounded on the teacher's
// registry SetPrimary/Remove primary-reassignment logic (switching and
// clearing a single "current" pointer under a lock).
type CloudState struct {
	mu sync.Mutex

	localAuthority string
	registry       *provider.Registry
	cfg            config.Store
	prefsStore     prefs.Store
	facade         dbfacade.Facade
	notifier       Notifier
	logger         *zap.Logger

	state model.CloudProviderState
}

// NewCloudState constructs a CloudState. Call RunDefaultSelection once at
// startup to populate the in-memory state from persisted prefs.
func NewCloudState(localAuthority string, registry *provider.Registry, cfg config.Store, prefsStore prefs.Store, facade dbfacade.Facade, notifier Notifier, logger *zap.Logger) *CloudState {
	if notifier == nil {
		notifier = NopNotifier
	}
	return &CloudState{
		localAuthority: localAuthority,
		registry:       registry,
		cfg:            cfg,
		prefsStore:     prefsStore,
		facade:         facade,
		notifier:       notifier,
		logger:         logger,
		state:          model.NotSetState(),
	}
}

// CloudSyncLockHeld marks that the caller holds the orchestrator's
// cloud-sync lock. Methods that must only run mid cloud-sync require one as
// their first argument, so the lock-ordering requirement (spec §9's design
// note) appears in the signature. It is a plain value that any package can
// construct, so the type states the requirement but does not enforce it.
type CloudSyncLockHeld struct{ _ byte }

// GetCloudProvider implements spec §4.C's lock-guarded read.
func (c *CloudState) GetCloudProvider() model.ProviderInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Provider
}

// CloudProviderState returns the full tri-state value.
func (c *CloudState) CloudProviderState() model.CloudProviderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetCloudProvider implements spec §4.C. authority == "" clears the
// selection. Returns false (no error) for the two documented rejection
// reasons — feature disabled, unknown/disallowed authority — per spec §7's
// "no exceptions cross the controller boundary for routine failures".
func (c *CloudState) SetCloudProvider(ctx context.Context, authority string, ignoreAllowlist bool) (bool, error) {
	if !c.cfg.IsCloudMediaInPhotoPickerEnabled() {
		return false, nil
	}

	var info model.ProviderInfo
	if authority != "" {
		resolved, ok := c.registry.Resolve(authority, ignoreAllowlist, c.cfg.CloudProviderAllowList())
		if !ok {
			return false, nil
		}
		info = resolved
	}

	var newState model.CloudProviderState
	if authority == "" {
		newState = model.UnsetState()
	} else {
		newState = model.SetState(info)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.state
	// Compare the full tri-state, not just the authority string: Set(empty)
	// and Unset both carry authority=="", but they're distinct persisted
	// states (testable property 1, §8) and a clear-to-nothing request
	// against a Set(empty) in-memory state must still persist the Unset
	// sentinel rather than short-circuit as a no-op.
	if current.Kind == newState.Kind && current.Provider.Authority == newState.Provider.Authority {
		return true, nil
	}

	if err := c.facade.SetCloudProvider(ctx, ""); err != nil {
		return false, wrap(ErrTransientRuntime, "disable cloud queries before switch", err)
	}

	if err := c.prefsStore.SetCloudProviderAuthority(ctx, newState); err != nil {
		return false, wrap(ErrTransientRuntime, "persist cloud provider selection", err)
	}

	from := model.ProviderInfo{}
	if current.Kind == model.Set {
		from = current.Provider
	}
	if err := c.facade.RecordProviderChange(ctx, from, info, "user"); err != nil && c.logger != nil {
		c.logger.Warn("provider-change audit write failed", zap.Error(err))
	}
	if c.logger != nil {
		c.logger.Info("cloud provider changed", zap.String("from", from.Authority), zap.String("to", info.Authority))
	}

	c.state = newState

	if err := c.notifier.Publish(ctx, RefreshPickerUIURI); err != nil && c.logger != nil {
		c.logger.Warn("refresh-picker-ui notification failed", zap.Error(err))
	}

	return true, nil
}

// NotifyPackageRemoval implements spec §4.C's package-removal hook.
func (c *CloudState) NotifyPackageRemoval(ctx context.Context, pkg string) error {
	c.mu.Lock()
	current := c.state
	c.mu.Unlock()

	if current.Kind != model.Set || current.Provider.PackageName != pkg {
		return nil
	}

	if _, err := c.SetCloudProvider(ctx, "", true); err != nil {
		return err
	}

	if err := c.prefsStore.SetCloudProviderAuthority(ctx, model.NotSetState()); err != nil {
		return wrap(ErrTransientRuntime, "clear persisted cloud provider after package removal", err)
	}

	c.mu.Lock()
	c.state = model.NotSetState()
	c.mu.Unlock()

	return c.RunDefaultSelection(ctx)
}

// IsProviderEnabled implements spec §4.C: restricted to local or the
// currently-set cloud provider.
func (c *CloudState) IsProviderEnabled(authority string) bool {
	if authority == c.localAuthority {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Kind == model.Set && c.state.Provider.Authority == authority
}

// IsProviderSupported implements spec §4.C: consults the full installed
// list, ignoring the allow-list.
func (c *CloudState) IsProviderSupported(authority string) bool {
	for _, info := range c.registry.AllAvailable() {
		if info.Authority == authority {
			return true
		}
	}
	return false
}

// RunDefaultSelection implements spec §4.C's default-selection routine,
// run at initialization and again after a package-removal cleanup.
func (c *CloudState) RunDefaultSelection(ctx context.Context) error {
	if !c.cfg.IsCloudMediaInPhotoPickerEnabled() {
		c.mu.Lock()
		c.state = model.SetState(model.EmptyProviderInfo)
		c.mu.Unlock()
		return nil
	}

	persisted, err := c.prefsStore.CloudProviderAuthority(ctx)
	if err != nil {
		return wrap(ErrTransientRuntime, "read persisted cloud provider", err)
	}

	if persisted.Kind == model.Unset {
		c.mu.Lock()
		c.state = model.SetState(model.EmptyProviderInfo)
		c.mu.Unlock()
		return nil
	}

	cachedAuthority := ""
	if persisted.Kind == model.Set {
		cachedAuthority = persisted.Provider.Authority
	}

	available := c.registry.Available(c.cfg.CloudProviderAllowList())
	allowList := c.cfg.CloudProviderAllowList()

	var chosen model.ProviderInfo
	switch {
	case len(available) == 1:
		chosen = available[0]
	case cachedAuthority != "" && authorityAvailable(available, cachedAuthority):
		if info, ok := c.registry.Resolve(cachedAuthority, false, allowList); ok {
			chosen = info
		}
	case c.cfg.DefaultCloudProviderPackage() != "":
		for _, info := range available {
			if info.PackageName == c.cfg.DefaultCloudProviderPackage() {
				chosen = info
				break
			}
		}
	}

	newState := model.SetState(chosen)
	c.mu.Lock()
	c.state = newState
	c.mu.Unlock()

	if chosen.Authority == cachedAuthority {
		return nil
	}

	if err := c.prefsStore.SetCloudProviderAuthority(ctx, newState); err != nil {
		return wrap(ErrTransientRuntime, "persist default cloud provider selection", err)
	}
	if err := c.notifier.Publish(ctx, RefreshPickerUIURI); err != nil && c.logger != nil {
		c.logger.Warn("refresh-picker-ui notification failed", zap.Error(err))
	}
	return nil
}

func authorityAvailable(available []model.ProviderInfo, authority string) bool {
	for _, info := range available {
		if info.Authority == authority {
			return true
		}
	}
	return false
}

// RecheckStillActive returns a closure the Planner invokes, mid-plan,
// under proof that the cloud-sync lock is held by the caller. It takes
// the cloud-provider lock internally to read the current authority — safe
// because CloudState never itself acquires the cloud-sync lock.
func (c *CloudState) RecheckStillActive(_ CloudSyncLockHeld, authority string) func() error {
	return func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state.Kind != model.Set || c.state.Provider.Authority != authority {
			return wrap(ErrRequestObsolete, "cloud provider changed mid-sync", nil)
		}
		return nil
	}
}
