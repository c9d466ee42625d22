// Package analysis aggregates stored comparison results into per-provider
// reliability, latency and confidence figures.
package analysis

import (
	"sort"

	"github.com/snarg/stt-compare/internal/compare"
	"github.com/snarg/stt-compare/internal/transcribe"
)

// ProviderMetrics summarizes one provider across many results. Means are
// taken over successful outcomes only and are 0 when there are none.
type ProviderMetrics struct {
	Provider           transcribe.ProviderID `json:"provider"`
	SuccessCount       int                   `json:"success_count"`
	TotalCount         int                   `json:"total_count"`
	MeanProcessingTime float64               `json:"mean_processing_time"`
	MeanConfidence     float64               `json:"mean_confidence"`
}

// SuccessRate returns SuccessCount/TotalCount, or 0 for an unseen provider.
func (p ProviderMetrics) SuccessRate() float64 {
	if p.TotalCount == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.TotalCount)
}

// Metrics is the aggregate over a set of results. Providers are listed in
// the order they were requested.
type Metrics struct {
	TotalFiles int               `json:"total_files"`
	Providers  []ProviderMetrics `json:"providers"`
}

// Get returns the metrics for id.
func (m Metrics) Get(id transcribe.ProviderID) (ProviderMetrics, bool) {
	for _, p := range m.Providers {
		if p.Provider == id {
			return p, true
		}
	}
	return ProviderMetrics{}, false
}

// MostReliable returns the provider with the highest success rate among those
// that appear in at least one result. Ties go to the earlier provider.
func (m Metrics) MostReliable() (ProviderMetrics, bool) {
	var best ProviderMetrics
	found := false
	for _, p := range m.Providers {
		if p.TotalCount == 0 {
			continue
		}
		if !found || p.SuccessRate() > best.SuccessRate() {
			best, found = p, true
		}
	}
	return best, found
}

// Fastest returns the provider with the lowest mean processing time among
// those with at least one success. Ties go to the earlier provider.
func (m Metrics) Fastest() (ProviderMetrics, bool) {
	var best ProviderMetrics
	found := false
	for _, p := range m.Providers {
		if p.SuccessCount == 0 {
			continue
		}
		if !found || p.MeanProcessingTime < best.MeanProcessingTime {
			best, found = p, true
		}
	}
	return best, found
}

// Aggregate computes metrics for providers over results. A nil providers
// list means the built-in providers in display order. Outcomes for providers
// outside that list are ignored. The result does not depend on the order of
// results.
func Aggregate(results []*compare.ComparisonResult, providers []transcribe.ProviderID) Metrics {
	if providers == nil {
		providers = transcribe.KnownProviders()
	}

	m := Metrics{}
	seen := make(map[transcribe.ProviderID]bool, len(providers))
	for _, id := range providers {
		if seen[id] {
			continue
		}
		seen[id] = true

		pm := ProviderMetrics{Provider: id}
		var times, confs []float64
		for _, r := range results {
			if r == nil {
				continue
			}
			o, ok := r.Outcomes[id]
			if !ok {
				continue
			}
			pm.TotalCount++
			if o.Succeeded {
				pm.SuccessCount++
				times = append(times, o.ProcessingTime)
				confs = append(confs, o.Confidence)
			}
		}
		pm.MeanProcessingTime = mean(times)
		pm.MeanConfidence = mean(confs)
		m.Providers = append(m.Providers, pm)
	}
	for _, r := range results {
		if r != nil {
			m.TotalFiles++
		}
	}
	return m
}

// mean sorts vs before summing so float rounding is independent of input
// order.
func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sort.Float64s(vs)
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
