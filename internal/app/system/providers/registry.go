package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Factory turns a validated ProviderConfig into an adapter.
type Factory func(ctx context.Context, cfg ProviderConfig, env Env) (FederatedAdapter, error)

// FactoryFor returns the constructor for a federated family.
func FactoryFor(f Family) (Factory, bool) {
	switch f {
	case FamilyGoogle:
		return NewGoogle, true
	case FamilyOIDC:
		return NewOIDC, true
	case FamilySAML:
		return NewSAML, true
	default:
		return nil, false
	}
}

// Builder collects adapter factories before the Registry is frozen.
type Builder struct {
	cfg       *Config
	env       Env
	factories map[string]Factory
}

// NewBuilder starts a registry from a loaded Config.
func NewBuilder(cfg *Config, env Env) *Builder {
	if cfg == nil {
		cfg = &Config{LocalEnabled: true}
	}
	return &Builder{cfg: cfg, env: env, factories: map[string]Factory{}}
}

// Register overrides the family constructor for providerID. A providerID
// absent from the configuration is added with a config carrying only its id.
func (b *Builder) Register(providerID string, f Factory) *Builder {
	b.factories[providerID] = f
	return b
}

// Build constructs every adapter. Any construction failure fails the whole
// build so a broken provider is never silently dropped.
func (b *Builder) Build(ctx context.Context) (*Registry, error) {
	log := b.env.logger()
	reg := &Registry{
		localEnabled: b.cfg.LocalEnabled,
		byID:         map[string]Adapter{},
		callbacks:    map[string]FederatedAdapter{},
	}
	if reg.localEnabled {
		reg.byID[string(FamilyLocal)] = Local{}
	}

	configs := b.cfg.Sorted()
	seen := map[string]bool{}
	maxIndex := -1
	for _, pc := range configs {
		seen[pc.ID] = true
		if pc.Index > maxIndex {
			maxIndex = pc.Index
		}
	}
	var extra []string
	for id := range b.factories {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for i, id := range extra {
		configs = append(configs, ProviderConfig{
			ID:           id,
			DisplayName:  id,
			Index:        maxIndex + 1 + i,
			CallbackPath: "/auth/" + id + "/callback",
			values:       map[string]any{},
		})
	}

	var errs []error
	for _, pc := range configs {
		if pc.ID == string(FamilyLocal) {
			errs = append(errs, fmt.Errorf("providers: %q is reserved", pc.ID))
			continue
		}
		f, ok := b.factories[pc.ID]
		if !ok {
			f, ok = FactoryFor(pc.Family)
		}
		if !ok {
			errs = append(errs, fmt.Errorf("providers: no factory for %q (family %q)", pc.ID, pc.Family))
			continue
		}
		a, err := f(ctx, pc, b.env)
		if err != nil {
			errs = append(errs, fmt.Errorf("providers: build %q: %w", pc.ID, err))
			continue
		}
		if other, dup := reg.callbacks[a.CallbackPath()]; dup {
			errs = append(errs, fmt.Errorf("providers: %q and %q share callback path %s", other.ID(), a.ID(), a.CallbackPath()))
			continue
		}
		reg.byID[a.ID()] = a
		reg.callbacks[a.CallbackPath()] = a
		reg.federated = append(reg.federated, a)
		log.Info("providers: registered",
			zap.String("provider", a.ID()),
			zap.String("family", string(a.Family())),
			zap.String("callback", a.CallbackPath()))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.SliceStable(reg.federated, func(i, j int) bool {
		return reg.federated[i].Index() < reg.federated[j].Index()
	})
	return reg, nil
}

// Registry is the immutable provider lookup table.
type Registry struct {
	localEnabled bool
	byID         map[string]Adapter
	callbacks    map[string]FederatedAdapter
	federated    []FederatedAdapter
}

// Adapter returns the adapter registered under id.
func (r *Registry) Adapter(id string) (Adapter, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// FederatedAdapter returns id's adapter when it is a federated provider.
func (r *Registry) FederatedAdapter(id string) (FederatedAdapter, bool) {
	a, ok := r.byID[id].(FederatedAdapter)
	return a, ok
}

// Federated returns the federated adapters in display order.
func (r *Registry) Federated() []FederatedAdapter {
	out := make([]FederatedAdapter, len(r.federated))
	copy(out, r.federated)
	return out
}

// LocalEnabled reports whether password login is available.
func (r *Registry) LocalEnabled() bool { return r.localEnabled }
