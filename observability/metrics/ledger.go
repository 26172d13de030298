package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"anchorledger/core/events"
)

type LedgerMetrics struct {
	anchorsCreated  prometheus.Counter
	anchorsSealed   prometheus.Counter
	pledges         *prometheus.CounterVec
	pledgedWei      prometheus.Counter
	outstandingWei  prometheus.Gauge
	claims          *prometheus.CounterVec
	fundMoves       *prometheus.CounterVec
	guardRejections *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			anchorsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_anchors_created_total",
				Help: "Count of anchors registered.",
			}),
			anchorsSealed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_anchors_sealed_total",
				Help: "Count of anchors sealed.",
			}),
			pledges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_pledges_total",
				Help: "Count of pledges by variant (funded or recorded).",
			}, []string{"variant"}),
			pledgedWei: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_pledged_wei_total",
				Help: "Cumulative value committed to anchors, in wei.",
			}),
			outstandingWei: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "ledger_outstanding_wei",
				Help: "Value pledged and not yet claimed since process start, in wei.",
			}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_claims_total",
				Help: "Count of claims by outcome.",
			}, []string{"outcome"}),
			fundMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_fund_moves_total",
				Help: "Count of administrative fund movements by destination kind.",
			}, []string{"kind"}),
			guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_guard_rejections_total",
				Help: "Count of guarded operations rejected because another was in flight.",
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.anchorsCreated,
			ledgerRegistry.anchorsSealed,
			ledgerRegistry.pledges,
			ledgerRegistry.pledgedWei,
			ledgerRegistry.outstandingWei,
			ledgerRegistry.claims,
			ledgerRegistry.fundMoves,
			ledgerRegistry.guardRejections,
		)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) ObserveGuardRejection(operation string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.guardRejections.WithLabelValues(operation).Inc()
}

// Emit implements events.Emitter so the registry can be attached to the
// ledger directly.
func (m *LedgerMetrics) Emit(evt events.Event) {
	if m == nil {
		return
	}
	switch e := evt.(type) {
	case events.AnchorCreated:
		m.anchorsCreated.Inc()
	case events.AnchorSealed:
		m.anchorsSealed.Inc()
	case events.PledgeRecorded:
		variant := "funded"
		if e.Recorded {
			variant = "recorded"
		}
		m.pledges.WithLabelValues(variant).Inc()
		wei := weiToFloat(e.Amount)
		m.pledgedWei.Add(wei)
		m.outstandingWei.Add(wei)
	case events.PledgeClaimed:
		m.claims.WithLabelValues("settled").Inc()
		m.outstandingWei.Sub(weiToFloat(e.Amount))
	case events.ClaimRolledBack:
		m.claims.WithLabelValues("rolled_back").Inc()
		m.outstandingWei.Add(weiToFloat(e.Amount))
	case events.TreasurySwept:
		m.fundMoves.WithLabelValues("treasury").Inc()
	case events.FallbackForwarded:
		m.fundMoves.WithLabelValues("fallback").Inc()
	}
}

func weiToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
