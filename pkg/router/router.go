package router

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/pario-ai/semcache/pkg/config"
)

// Route represents a resolved provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Router resolves request kinds to ordered provider+model chains.
type Router struct {
	cfg *config.Config
}

// New creates a Router from the given configuration.
func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// Resolve returns an ordered list of routes for the first kind that has a
// route naming a known provider. Callers pass kinds from most to least
// specific, e.g. a chat mode followed by "chat". A route whose providers are
// all unknown falls through to the next kind. Without any configured route
// the first provider is used with its own model.
func (r *Router) Resolve(kinds ...string) ([]Route, error) {
	if len(r.cfg.Providers) == 0 {
		return nil, goerr.New("no providers configured")
	}

	providerIndex := make(map[string]config.ProviderConfig, len(r.cfg.Providers))
	for _, p := range r.cfg.Providers {
		providerIndex[p.Name] = p
	}

	var unresolved []string
	for _, kind := range kinds {
		for _, route := range r.cfg.Router.Routes {
			if route.Kind != kind {
				continue
			}
			var routes []Route
			for _, target := range route.Targets {
				provider, ok := providerIndex[target.Provider]
				if !ok {
					continue // skip unknown providers
				}
				model := target.Model
				if model == "" {
					model = provider.Model
				}
				routes = append(routes, Route{Provider: provider, Model: model})
			}
			if len(routes) > 0 {
				return routes, nil
			}
			unresolved = append(unresolved, kind)
		}
	}
	if len(unresolved) > 0 {
		return nil, goerr.New("all route providers unknown", goerr.V("kinds", unresolved))
	}

	first := r.cfg.Providers[0]
	return []Route{{Provider: first, Model: first.Model}}, nil
}
