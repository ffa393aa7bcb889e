package worker

import (
	"context"
	"time"

	"lodge-codevault/internal/domain/ports/adapter"
)

var _ adapter.OperatorAlerter = (*AlertDispatcher)(nil)

// AlertDispatcher delivers warnings in the background through a Pool.
// Critical alerts are always delivered inline and their error returned.
type AlertDispatcher struct {
	next    adapter.OperatorAlerter
	pool    *Pool
	timeout time.Duration
}

func NewAlertDispatcher(next adapter.OperatorAlerter, pool *Pool, timeout time.Duration) *AlertDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AlertDispatcher{next: next, pool: pool, timeout: timeout}
}

func (d *AlertDispatcher) Alert(ctx context.Context, sev adapter.Severity, title, body string) error {
	if sev == adapter.SeverityCritical || d.pool == nil {
		return d.next.Alert(ctx, sev, title, body)
	}
	err := d.pool.Submit(func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		return d.next.Alert(actx, sev, title, body)
	})
	if err == ErrQueueFull {
		return d.next.Alert(ctx, sev, title, body)
	}
	return err
}
