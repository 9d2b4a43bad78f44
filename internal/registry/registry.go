// Package registry is the source of truth for the active instrument
// universe and each symbol's configured timeframes (spec.md §4.7). It is a
// thin read-through over the repository, in the same spirit as the
// platform's Client.HealthCheck read-through-all-providers pattern.
package registry

import (
	"context"
	"sort"
	"strings"

	"marketwarehouse/internal/calendar"
	"marketwarehouse/internal/repository"
	"marketwarehouse/libs/marketdata"
)

// Store is the persistence dependency the registry reads through. It is
// satisfied by *repository.Repository.
type Store interface {
	GetSymbolsDetailed(ctx context.Context) ([]repository.SymbolSummary, error)
}

// TrackedSymbol is one active instrument and the timeframes the
// orchestrator should backfill for it.
type TrackedSymbol struct {
	Symbol     string
	AssetClass calendar.AssetClass
	Timeframes []marketdata.Timeframe
}

// Registry reads the tracked-symbol universe from a Store.
type Registry struct {
	store Store
}

// New builds a Registry over store.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// ListActive returns every active tracked symbol, ordered by symbol name,
// with its configured timeframes filtered down to the closed set (spec.md
// §6). A symbol whose stored timeframes contain an unrecognized value has
// that value silently dropped, per spec.md §4.7.
func (r *Registry) ListActive(ctx context.Context) ([]TrackedSymbol, error) {
	rows, err := r.store.GetSymbolsDetailed(ctx)
	if err != nil {
		return nil, err
	}

	var out []TrackedSymbol
	for _, row := range rows {
		if !row.Active {
			continue
		}
		out = append(out, TrackedSymbol{
			Symbol:     strings.ToUpper(row.Symbol),
			AssetClass: calendar.AssetClass(row.AssetClass),
			Timeframes: filterValidTimeframes(row.Timeframes),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func filterValidTimeframes(raw []string) []marketdata.Timeframe {
	var out []marketdata.Timeframe
	for _, tf := range raw {
		candidate := marketdata.Timeframe(tf)
		if marketdata.ValidTimeframes[candidate] {
			out = append(out, candidate)
		}
	}
	return out
}
