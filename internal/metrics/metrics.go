package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 钱包网关与后台任务的指标，nil 接收者上的方法均为空操作
type Metrics struct {
	walletCalls          *prometheus.CounterVec
	walletCallDuration   *prometheus.HistogramVec
	auditWriteFailures   prometheus.Counter
	retryEnqueueFailures prometheus.Counter
	retryJobs            *prometheus.CounterVec
	outboxPublished      *prometheus.CounterVec
	stuckBets            prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		walletCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletbridge_wallet_calls_total",
			Help: "钱包调用次数，按 action 与结果分类",
		}, []string{"action", "outcome"}),
		walletCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "walletbridge_wallet_call_duration_seconds",
			Help:    "钱包调用耗时",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		auditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletbridge_audit_write_failures_total",
			Help: "审计记录写入失败次数",
		}),
		retryEnqueueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletbridge_retry_enqueue_failures_total",
			Help: "重试任务入队失败次数",
		}),
		retryJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletbridge_retry_jobs_total",
			Help: "已入队的重试任务",
		}, []string{"action"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletbridge_outbox_published_total",
			Help: "outbox 投递结果",
		}, []string{"result"}),
		stuckBets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletbridge_stuck_bets_total",
			Help: "扫描发现的滞留注单",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.walletCalls, m.walletCallDuration, m.auditWriteFailures,
			m.retryEnqueueFailures, m.retryJobs, m.outboxPublished, m.stuckBets,
		)
	}
	return m
}

func (m *Metrics) ObserveWalletCall(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.walletCalls.WithLabelValues(action, outcome).Inc()
	m.walletCallDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) AuditWriteFailed() {
	if m == nil {
		return
	}
	m.auditWriteFailures.Inc()
}

func (m *Metrics) RetryEnqueueFailed() {
	if m == nil {
		return
	}
	m.retryEnqueueFailures.Inc()
}

func (m *Metrics) RetryJobEnqueued(action string) {
	if m == nil {
		return
	}
	m.retryJobs.WithLabelValues(action).Inc()
}

func (m *Metrics) OutboxPublished(result string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) StuckBetsFound(n int) {
	if m == nil {
		return
	}
	m.stuckBets.Add(float64(n))
}
