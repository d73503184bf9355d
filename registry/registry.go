// Package registry federates multiple [Plugin] package sources behind a
// single query surface (spec.md §4.4), grounded on
// registry/updater/registry.go's name-keyed registration pattern and
// libvuln/driver's capability-interface shape.
package registry

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/serpent-os/moss/provider"
)

var queryCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "moss",
		Subsystem: "registry",
		Name:      "queries_total",
		Help:      "Total number of Registry fan-out queries.",
	},
	[]string{"op"},
)

// Registry holds an ordered list of plugins and answers federated queries
// over all of them (spec.md §4.4).
type Registry struct {
	plugins []Plugin
}

// New builds a Registry over plugins, in the given registration order.
// Registration order is significant: it's the order ByName/ByID/ByProvider
// results are concatenated or short-circuited in.
func New(plugins ...Plugin) *Registry {
	return &Registry{plugins: append([]Plugin(nil), plugins...)}
}

// ByName concatenates each plugin's QueryProviders(PackageName, name,
// Available), in plugin registration order. Duplicates by pkgID are not
// collapsed here (spec.md §4.4) — see [Registry.Resolve] for a deduping
// policy helper.
func (r *Registry) ByName(ctx context.Context, name string) ([]RegistryItem, error) {
	queryCounter.WithLabelValues("byname").Inc()
	return r.fanOut(ctx, func(ctx context.Context, p Plugin) ([]RegistryItem, error) {
		return p.QueryProviders(ctx, provider.PackageName, name, Available)
	})
}

// ByProvider concatenates each plugin's QueryProviders(kind, matcher,
// Available), in plugin registration order.
func (r *Registry) ByProvider(ctx context.Context, kind provider.Kind, matcher string) ([]RegistryItem, error) {
	queryCounter.WithLabelValues("byprovider").Inc()
	return r.fanOut(ctx, func(ctx context.Context, p Plugin) ([]RegistryItem, error) {
		return p.QueryProviders(ctx, kind, matcher, Available)
	})
}

// fanOut queries every plugin concurrently via errgroup, then concatenates
// results in registration order regardless of completion order (spec.md §4.4
// "order = plugin registration order").
//
// A plugin that errors on a read query is logged and treated as returning no
// results; its failure never propagates to the caller or suppresses other
// plugins' results (spec.md §7: "The registry never propagates plugin
// errors during read queries"). errgroup.Group is used here purely as a
// bounded fan-out mechanism, not for its error-short-circuiting behavior —
// the inner goroutines never return a non-nil error, so g.Wait() never
// aborts early.
func (r *Registry) fanOut(ctx context.Context, query func(context.Context, Plugin) ([]RegistryItem, error)) ([]RegistryItem, error) {
	results := make([][]RegistryItem, len(r.plugins))
	var g errgroup.Group
	for i, p := range r.plugins {
		g.Go(func() error {
			items, err := query(ctx, p)
			if err != nil {
				slog.ErrorContext(ctx, "plugin query failed", "plugin", p.Name(), "error", err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait() // inner goroutines never return a non-nil error

	var out []RegistryItem
	for _, items := range results {
		out = append(out, items...)
	}
	return out, nil
}

// ByID returns the first plugin's result for pkgID, in registration order;
// evaluation short-circuits on the first match (spec.md §4.4). This is
// sequential rather than fanned-out, since short-circuiting on the first hit
// means later plugins should not be queried at all.
//
// A plugin that errors is logged and skipped, not propagated: later plugins
// are still queried (spec.md §7: "The registry never propagates plugin
// errors during read queries").
func (r *Registry) ByID(ctx context.Context, pkgID string) (RegistryItem, bool, error) {
	queryCounter.WithLabelValues("byid").Inc()
	for _, p := range r.plugins {
		item, ok, err := p.QueryID(ctx, pkgID)
		if err != nil {
			slog.ErrorContext(ctx, "plugin query failed", "plugin", p.Name(), "error", err)
			continue
		}
		if ok {
			return item, true, nil
		}
	}
	return RegistryItem{}, false, nil
}

// List concatenates each plugin's List(flags), in registration order.
func (r *Registry) List(ctx context.Context, flags ItemFlags) ([]RegistryItem, error) {
	return r.fanOut(ctx, func(ctx context.Context, p Plugin) ([]RegistryItem, error) {
		return p.List(ctx, flags)
	})
}

// Close closes each plugin in registration order (spec.md §5), continuing
// past individual failures and returning the first error encountered.
func (r *Registry) Close() error {
	var first error
	for _, p := range r.plugins {
		if err := p.Close(); err != nil {
			slog.Error("plugin close failed", "plugin", p.Name(), "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
