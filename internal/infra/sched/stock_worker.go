package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lodge-codevault/internal/domain/model"
	"lodge-codevault/internal/domain/ports/adapter"
	"lodge-codevault/internal/infra/metrics"
	"lodge-codevault/internal/usecase"
)

// StockReader is the part of the code use case the stock worker needs.
type StockReader interface {
	ListPlans(ctx context.Context) ([]*model.Plan, error)
	CheckAvailability(ctx context.Context, planID string) (*usecase.Availability, error)
}

// StockWorker periodically publishes per-plan stock and warns operators
// once when an active plan falls below the low-stock threshold. The warning
// re-arms after the plan is restocked.
type StockWorker struct {
	interval  time.Duration
	threshold int
	stock     StockReader
	alerter   adapter.OperatorAlerter
	log       *zerolog.Logger

	known   map[string]string // plan id -> name with a published gauge
	alerted map[string]bool
}

func NewStockWorker(interval time.Duration, threshold int, stock StockReader, alerter adapter.OperatorAlerter, logger *zerolog.Logger) *StockWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	stockLog := logger.With().Str("component", "StockWorker").Logger()
	return &StockWorker{
		interval:  interval,
		threshold: threshold,
		stock:     stock,
		alerter:   alerter,
		log:       &stockLog,
		known:     make(map[string]string),
		alerted:   make(map[string]bool),
	}
}

func (w *StockWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Int("threshold", w.threshold).Msg("Starting stock worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stock worker")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *StockWorker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := w.Check(runCtx); err != nil {
		w.log.Error().Err(err).Msg("stock check error")
	}
}

// Check performs one pass over all plans. Plans that disappeared have their
// gauge removed.
func (w *StockWorker) Check(ctx context.Context) error {
	plans, err := w.stock.ListPlans(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(plans))
	for _, p := range plans {
		seen[p.ID] = true
		av, err := w.stock.CheckAvailability(ctx, p.ID)
		if err != nil {
			w.log.Warn().Err(err).Str("plan_id", p.ID).Msg("count failed")
			continue
		}
		if old, ok := w.known[p.ID]; ok && old != p.Name {
			metrics.DeletePlanStock(p.ID, old)
		}
		metrics.SetPlanStock(p.ID, p.Name, av.Count)
		w.known[p.ID] = p.Name

		if !p.Active || w.threshold <= 0 {
			continue
		}
		low := av.Count < w.threshold
		switch {
		case low && !w.alerted[p.ID]:
			w.alerted[p.ID] = true
			w.log.Warn().Str("plan_id", p.ID).Int("count", av.Count).Msg("plan stock is low")
			w.notify(ctx, p, av.Count)
		case !low && w.alerted[p.ID]:
			delete(w.alerted, p.ID)
		}
	}

	for id, name := range w.known {
		if !seen[id] {
			metrics.DeletePlanStock(id, name)
			delete(w.known, id)
			delete(w.alerted, id)
		}
	}
	return nil
}

func (w *StockWorker) notify(ctx context.Context, p *model.Plan, count int) {
	if w.alerter == nil {
		return
	}
	title := fmt.Sprintf("Low stock: %s", p.Name)
	body := fmt.Sprintf("plan: %s\nkind: %s, sizing: %d, price: %d\ncodes left: %d (threshold %d)",
		p.ID, p.Kind, p.Sizing, p.Price, count, w.threshold)
	if err := w.alerter.Alert(ctx, adapter.SeverityWarning, title, body); err != nil {
		w.log.Error().Err(err).Str("plan_id", p.ID).Msg("low stock alert failed")
	}
}
