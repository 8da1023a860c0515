package router

import (
	"fmt"
	"sort"

	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/config"
	"github.com/zen-systems/cascadegate/pkg/schema"
)

// RouteInfo describes the model bound to a cascade role.
type RouteInfo struct {
	Role          schema.Role
	Adapter       string
	Model         string // May be alias
	ResolvedModel string // Canonical model name
	UnitCost      float64
}

// Target is a resolved model for one role.
type Target struct {
	Role     schema.Role
	Adapter  adapter.Adapter
	Model    string
	UnitCost float64
}

// ModelRouter resolves cascade roles to registered adapters and models.
type ModelRouter struct {
	adapters map[string]adapter.Adapter
	aliases  *config.ModelAliases
	config   *config.CascadeConfig
}

// RouterOption configures a ModelRouter.
type RouterOption func(*ModelRouter)

// WithAliases sets the model aliases for the router.
func WithAliases(aliases *config.ModelAliases) RouterOption {
	return func(r *ModelRouter) {
		r.aliases = aliases
	}
}

// NewRouter creates a new router with the given adapters and cascade config.
func NewRouter(adapters map[string]adapter.Adapter, cfg *config.CascadeConfig, opts ...RouterOption) *ModelRouter {
	r := &ModelRouter{
		adapters: adapters,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route resolves the adapter and canonical model for a role.
func (r *ModelRouter) Route(role schema.Role) (*Target, error) {
	ref, ok := r.config.Model(role)
	if !ok {
		return nil, fmt.Errorf("no %s model configured", role)
	}
	a, ok := r.adapters[ref.Adapter]
	if !ok || a == nil {
		return nil, fmt.Errorf("%s adapter %q not registered", role, ref.Adapter)
	}
	return &Target{
		Role:     role,
		Adapter:  a,
		Model:    r.resolveModel(ref.Model),
		UnitCost: ref.UnitCost,
	}, nil
}

// resolveModel resolves a model alias to its canonical name.
func (r *ModelRouter) resolveModel(model string) string {
	if r.aliases != nil {
		return r.aliases.Resolve(model)
	}
	return model
}

// GetAdapter returns an adapter by name.
func (r *ModelRouter) GetAdapter(name string) (adapter.Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// GetRoutes returns every configured model reference.
func (r *ModelRouter) GetRoutes() []RouteInfo {
	var routes []RouteInfo
	for _, ref := range r.config.Models {
		routes = append(routes, RouteInfo{
			Role:          ref.Role,
			Adapter:       ref.Adapter,
			Model:         ref.Model,
			ResolvedModel: r.resolveModel(ref.Model),
			UnitCost:      ref.UnitCost,
		})
	}
	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].Role < routes[j].Role
	})
	return routes
}

// GetAliases returns the model aliases, if configured.
func (r *ModelRouter) GetAliases() *config.ModelAliases {
	return r.aliases
}
