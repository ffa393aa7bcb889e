// File: internal/infra/metrics/metrics.go
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(claimsTotal, codesAddedTotal, codesDeletedTotal, cryptoErrorsTotal, planStock)
}

// Claim outcomes.
const (
	ClaimIssued        = "issued"
	ClaimExhausted     = "exhausted"
	ClaimAlreadyIssued = "already_issued"
	ClaimUndecryptable = "undecryptable"
	ClaimError         = "error"
)

var (
	claimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codevault_claims_total",
			Help: "Claim attempts by outcome (issued/exhausted/already_issued/undecryptable/error).",
		},
		[]string{"outcome"},
	)

	codesAddedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codevault_codes_added_total",
			Help: "Add-code requests by result (created/duplicate).",
		},
		[]string{"result"},
	)

	codesDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codevault_codes_deleted_total",
			Help: "Codes removed by administrators, by reason (admin/cascade).",
		},
		[]string{"reason"},
	)

	cryptoErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codevault_crypto_errors_total",
			Help: "Cipher failures by operation (encrypt/decrypt).",
		},
		[]string{"op"},
	)

	planStock = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "codevault_plan_stock",
			Help: "Unclaimed codes per plan, refreshed by the stock monitor.",
		},
		[]string{"plan_id", "plan"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncClaim(outcome string) { claimsTotal.WithLabelValues(norm(outcome)).Inc() }

func IncCodeAdded(created bool) {
	if created {
		codesAddedTotal.WithLabelValues("created").Inc()
		return
	}
	codesAddedTotal.WithLabelValues("duplicate").Inc()
}

func AddCodesDeleted(reason string, n int) {
	if n > 0 {
		codesDeletedTotal.WithLabelValues(norm(reason)).Add(float64(n))
	}
}

func IncCryptoError(op string) { cryptoErrorsTotal.WithLabelValues(norm(op)).Inc() }

func SetPlanStock(planID, planName string, n int) {
	planStock.WithLabelValues(planID, planName).Set(float64(n))
}

// DeletePlanStock drops the gauge series of a plan that no longer exists.
func DeletePlanStock(planID, planName string) {
	planStock.DeleteLabelValues(planID, planName)
}
