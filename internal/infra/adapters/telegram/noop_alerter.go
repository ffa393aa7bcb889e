package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"lodge-codevault/internal/domain/ports/adapter"
)

var _ adapter.OperatorAlerter = (*NoopAlerter)(nil)

// NoopAlerter implements adapter.OperatorAlerter for local/dev runs.
// It logs alerts instead of sending real Telegram messages.
type NoopAlerter struct {
	log *zerolog.Logger
}

func NewNoopAlerter(logger *zerolog.Logger) *NoopAlerter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &NoopAlerter{log: logger}
}

func (n *NoopAlerter) Alert(ctx context.Context, sev adapter.Severity, title, body string) error {
	n.log.Warn().Str("severity", string(sev)).Str("title", title).Str("body", body).Msg("[noop-telegram] operator alert")
	return nil
}
