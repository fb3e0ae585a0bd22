// control/facade.go
// Author: momentics <momentics@gmail.com>
//
// Facade composes ConfigStore, MetricsRegistry and DebugProbes behind a
// single api.Control surface.

package control

import "github.com/momentics/nic-sdk-core/api"

// Facade implements api.Control over a ConfigStore/MetricsRegistry/DebugProbes
// triple, so a component that only knows about api.Control can still reach
// config, metrics and debug probes without importing control directly.
type Facade struct {
	cfg     *ConfigStore
	metrics *MetricsRegistry
	debug   *DebugProbes
}

var _ api.Control = (*Facade)(nil)

// NewFacade builds a Facade over the given collaborators. Any of them may be
// nil; the corresponding methods then report an empty map or no-op.
func NewFacade(cfg *ConfigStore, metrics *MetricsRegistry, debug *DebugProbes) *Facade {
	return &Facade{cfg: cfg, metrics: metrics, debug: debug}
}

// GetConfig returns the current config snapshot.
func (f *Facade) GetConfig() map[string]any {
	if f.cfg == nil {
		return map[string]any{}
	}
	return f.cfg.GetSnapshot()
}

// SetConfig merges cfg into the store and triggers its reload listeners.
func (f *Facade) SetConfig(cfg map[string]any) error {
	if f.cfg == nil {
		return api.ErrNotSupported
	}
	f.cfg.SetConfig(cfg)
	return nil
}

// Stats returns the current metrics snapshot.
func (f *Facade) Stats() map[string]any {
	if f.metrics == nil {
		return map[string]any{}
	}
	return f.metrics.GetSnapshot()
}

// OnReload registers fn against the underlying ConfigStore.
func (f *Facade) OnReload(fn func()) {
	if f.cfg == nil {
		return
	}
	f.cfg.OnReload(fn)
}

// RegisterDebugProbe registers fn against the underlying DebugProbes.
func (f *Facade) RegisterDebugProbe(name string, fn func() any) {
	if f.debug == nil {
		return
	}
	f.debug.RegisterProbe(name, fn)
}
