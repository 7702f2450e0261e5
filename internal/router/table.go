package router

import (
	"sort"

	"github.com/llm-relay/relay/pkg/types"
)

// Table maps task types to their ordered candidate lists. Within each
// task, primary entries always precede fallback entries; inside each
// group the declared configuration order is preserved. A Table is
// immutable after construction; hot reloads swap in a fresh one.
type Table struct {
	routes map[types.TaskType][]types.ProviderConfig
}

// NewTable builds a routing table, normalizing each candidate list so
// primaries come before fallbacks
func NewTable(routes map[types.TaskType][]types.ProviderConfig) *Table {
	normalized := make(map[types.TaskType][]types.ProviderConfig, len(routes))
	for task, configs := range routes {
		ordered := make([]types.ProviderConfig, len(configs))
		copy(ordered, configs)
		sort.SliceStable(ordered, func(i, j int) bool {
			return !ordered[i].IsFallback && ordered[j].IsFallback
		})
		normalized[task] = ordered
	}
	return &Table{routes: normalized}
}

// NewTableFromConfig builds a routing table from the configuration file
// representation
func NewTableFromConfig(cfg *types.RoutingConfig) *Table {
	routes := make(map[types.TaskType][]types.ProviderConfig, len(cfg.Tasks))
	for task, entries := range cfg.Tasks {
		configs := make([]types.ProviderConfig, 0, len(entries))
		for _, entry := range entries {
			configs = append(configs, types.ProviderConfig{
				ProviderID:        entry.Provider,
				ModelID:           entry.Model,
				MaxLatencyMs:      entry.MaxLatencyMs,
				MaxCostUsd:        entry.MaxCostUsd,
				IsFallback:        entry.Fallback,
				SupportsStreaming: entry.Streaming,
			})
		}
		routes[types.TaskType(task)] = configs
	}
	return NewTable(routes)
}

// Lookup returns the ordered candidate list for a task
func (t *Table) Lookup(task types.TaskType) []types.ProviderConfig {
	return t.routes[task]
}

// FindProvider locates a configured entry for an explicitly pinned
// provider, preferring entries under the request's task type
func (t *Table) FindProvider(task types.TaskType, providerID string) (types.ProviderConfig, bool) {
	for _, config := range t.routes[task] {
		if config.ProviderID == providerID {
			return config, true
		}
	}
	for _, configs := range t.routes {
		for _, config := range configs {
			if config.ProviderID == providerID {
				return config, true
			}
		}
	}
	return types.ProviderConfig{}, false
}

// SelectFunc orders and filters the candidates for a request. Swapping
// the function swaps the routing strategy.
type SelectFunc func(table *Table, req *types.RoutingRequest) []types.ProviderConfig

// TaskOrdered is the default strategy: configured order, primaries before
// fallbacks, filtered by the request's override constraints
func TaskOrdered(table *Table, req *types.RoutingRequest) []types.ProviderConfig {
	return filterByConstraints(table.Lookup(req.TaskType), req)
}

// CostOptimized orders candidates by their configured cost ceiling,
// cheapest first, still keeping primaries ahead of fallbacks
func CostOptimized(table *Table, req *types.RoutingRequest) []types.ProviderConfig {
	candidates := filterByConstraints(table.Lookup(req.TaskType), req)
	ordered := make([]types.ProviderConfig, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].IsFallback != ordered[j].IsFallback {
			return !ordered[i].IsFallback
		}
		return ordered[i].MaxCostUsd < ordered[j].MaxCostUsd
	})
	return ordered
}

// filterByConstraints drops candidates that exceed the request's latency
// or cost overrides
func filterByConstraints(candidates []types.ProviderConfig, req *types.RoutingRequest) []types.ProviderConfig {
	filtered := make([]types.ProviderConfig, 0, len(candidates))
	for _, candidate := range candidates {
		if req.MaxLatencyMs > 0 && candidate.MaxLatencyMs > req.MaxLatencyMs {
			continue
		}
		if req.MaxCostUsd > 0 && candidate.MaxCostUsd > req.MaxCostUsd {
			continue
		}
		filtered = append(filtered, candidate)
	}
	return filtered
}
