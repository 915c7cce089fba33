package engine

import (
	"encoding/json"
	"fmt"

	"stockanalyzer/internal/store"
)

// Record converts a finished result into its persisted form. Summary holds
// SummaryJSON; warnings are flattened to "YYYY-MM-DD: message".
func (r *Result) Record() (*store.RunRecord, error) {
	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	summary, err := r.SummaryJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding summary: %w", err)
	}
	warnings := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		warnings[i] = w.Date.Format("2006-01-02") + ": " + w.Message
	}
	return &store.RunRecord{
		ID:             r.RunID,
		Strategy:       r.Strategy,
		State:          string(r.State),
		StartDate:      r.Config.Start,
		EndDate:        r.Config.End,
		InitialCapital: r.Config.InitialCapital,
		FinalValue:     r.FinalValue(),
		Config:         cfg,
		Summary:        summary,
		Warnings:       warnings,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.StartedAt.Add(r.Duration),
		Trades:         r.Trades,
		Orders:         r.Orders,
		Equity:         r.Snapshots,
	}, nil
}
