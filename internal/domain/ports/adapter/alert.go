package adapter

import "context"

// Severity of an operator alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// OperatorAlerter delivers messages to the people operating the vault.
// Implementations must not include secret material in what they send.
type OperatorAlerter interface {
	Alert(ctx context.Context, sev Severity, title, body string) error
}
