package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type SupplyMetrics struct {
	circulating   prometheus.Gauge
	headroom      prometheus.Gauge
	issued        prometheus.Gauge
	burned        prometheus.Gauge
	poolBalance   prometheus.Gauge
	paused        prometheus.Gauge
	capRejections *prometheus.CounterVec
	claims        *prometheus.CounterVec
	claimedAmount *prometheus.CounterVec
	listingBurns  prometheus.Counter
}

var (
	supplyOnce     sync.Once
	supplyRegistry *SupplyMetrics
)

func Supply() *SupplyMetrics {
	supplyOnce.Do(func() {
		supplyRegistry = &SupplyMetrics{
			circulating: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "capsupply_circulating",
				Help: "Circulating supply (issued minus burned) in base units.",
			}),
			headroom: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "capsupply_headroom",
				Help: "Amount that can still be minted before the cap is reached.",
			}),
			issued: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "capsupply_issued",
				Help: "Cumulative minted amount.",
			}),
			burned: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "capsupply_burned",
				Help: "Cumulative burned amount.",
			}),
			poolBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "capsupply_distributor_pool_balance",
				Help: "Balance of the distributor escrow pool.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "capsupply_paused",
				Help: "1 while the engine pause gate is closed.",
			}),
			capRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "capsupply_cap_rejections_total",
				Help: "Claims rejected because the cap had no headroom, by stream.",
			}, []string{"stream"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "capsupply_claims_total",
				Help: "Successful reward claims by stream.",
			}, []string{"stream"}),
			claimedAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "capsupply_claimed_amount_total",
				Help: "Reward paid out by stream in base units.",
			}, []string{"stream"}),
			listingBurns: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "capsupply_listing_burns_total",
				Help: "Count of listing fee burns.",
			}),
		}
		prometheus.MustRegister(
			supplyRegistry.circulating,
			supplyRegistry.headroom,
			supplyRegistry.issued,
			supplyRegistry.burned,
			supplyRegistry.poolBalance,
			supplyRegistry.paused,
			supplyRegistry.capRejections,
			supplyRegistry.claims,
			supplyRegistry.claimedAmount,
			supplyRegistry.listingBurns,
		)
	})
	return supplyRegistry
}

// SetSupply publishes the ledger counters.
func (m *SupplyMetrics) SetSupply(issued, burned, circulating, headroom *big.Int) {
	if m == nil {
		return
	}
	m.issued.Set(toFloat(issued))
	m.burned.Set(toFloat(burned))
	m.circulating.Set(toFloat(circulating))
	m.headroom.Set(toFloat(headroom))
}

func (m *SupplyMetrics) SetPoolBalance(amount *big.Int) {
	if m == nil {
		return
	}
	m.poolBalance.Set(toFloat(amount))
}

func (m *SupplyMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

func (m *SupplyMetrics) ObserveCapRejection(stream string) {
	if m == nil {
		return
	}
	m.capRejections.WithLabelValues(label(stream)).Inc()
}

func (m *SupplyMetrics) ObserveClaim(stream string, amount *big.Int) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(label(stream)).Inc()
	m.claimedAmount.WithLabelValues(label(stream)).Add(toFloat(amount))
}

func (m *SupplyMetrics) ObserveListingBurn() {
	if m == nil {
		return
	}
	m.listingBurns.Inc()
}

// InitStream pre-creates the per-stream series so dashboards see zeroes.
func (m *SupplyMetrics) InitStream(stream string) {
	if m == nil {
		return
	}
	m.capRejections.WithLabelValues(label(stream)).Add(0)
	m.claims.WithLabelValues(label(stream)).Add(0)
	m.claimedAmount.WithLabelValues(label(stream)).Add(0)
}

func label(stream string) string {
	if stream == "" {
		return "unknown"
	}
	return stream
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
