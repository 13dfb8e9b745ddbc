package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"OrchestratorSiphon/internal/web3"
)

var (
	accountValue = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "siphon_account_value",
		Help: "Last fetched value per account and category, in whole tokens.",
	}, []string{"account", "category"})
	lastClaimedRound = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "siphon_last_claimed_round",
		Help: "Last round the orchestrator called reward for.",
	}, []string{"account"})
	currentRound = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "siphon_current_round",
		Help: "Current protocol round.",
	})
	roundLocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "siphon_round_locked",
		Help: "1 when the current round is locked.",
	})
	paused = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "siphon_paused",
		Help: "1 while the engine skips ticks.",
	})
	actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "siphon_actions_total",
		Help: "Dispatched actions by category and result.",
	}, []string{"category", "result"})
	readFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "siphon_read_failures_total",
		Help: "Failed chain reads by category.",
	}, []string{"category"})
	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "siphon_tick_duration_seconds",
		Help:    "Wall time of one engine tick.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	})
)

func init() {
	Registry.MustRegister(accountValue, lastClaimedRound, currentRound, roundLocked, paused,
		actions, readFailures, tickDuration)
}

// SetAccountValue records a cached amount in whole tokens.
func SetAccountValue(account, category string, value *big.Int) {
	if value == nil {
		return
	}
	accountValue.WithLabelValues(account, category).Set(web3.AmountFloat(value))
}

// SetLastClaimedRound records the reward round for account.
func SetLastClaimedRound(account string, round uint64) {
	lastClaimedRound.WithLabelValues(account).Set(float64(round))
}

// SetRound records the round gate state.
func SetRound(round uint64, locked bool) {
	currentRound.Set(float64(round))
	roundLocked.Set(boolValue(locked))
}

// SetPaused records whether the engine is paused.
func SetPaused(p bool) { paused.Set(boolValue(p)) }

// ObserveAction counts an action outcome: confirmed, failed or dry_run.
func ObserveAction(category, result string) {
	actions.WithLabelValues(category, result).Inc()
}

// ObserveReadFailure counts a failed chain read.
func ObserveReadFailure(category string) {
	readFailures.WithLabelValues(category).Inc()
}

// ObserveTick records the duration of one tick.
func ObserveTick(d time.Duration) { tickDuration.Observe(d.Seconds()) }

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
