package observability

// Metrics provides counter and gauge recording primitives for vault operations.
type Metrics interface {
	IncCounter(name string, value int64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, int64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string) {}

// Metric names emitted by the vault core.
const (
	MetricDeposits        = "omnivault_deposits_total"
	MetricWithdrawals     = "omnivault_withdrawals_total"
	MetricSwaps           = "omnivault_swaps_total"
	MetricRejections      = "omnivault_rejections_total"
	MetricJournalFailures = "omnivault_journal_failures_total"
	MetricAggregate       = "omnivault_aggregate_balance"
	MetricPoolLiquidity   = "omnivault_pool_liquidity"
)
