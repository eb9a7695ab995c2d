// Package metrics 提供 gamenet 的 Prometheus 指标
//
// 每个节点持有独立的 prometheus.Registry，避免全局注册表带来的隐式共享，
// 同一进程内可以运行多个互不干扰的节点（测试常见）。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// RPC
	RPCSent      *prometheus.CounterVec
	RPCReceived  *prometheus.CounterVec
	RPCForwarded prometheus.Counter
	RPCDropped   *prometheus.CounterVec

	// 可靠层
	ReliableSent      prometheus.Counter
	ReliableRetries   prometheus.Counter
	ReliableAcked     prometheus.Counter
	ReliableLost      prometheus.Counter
	DuplicatesDropped prometheus.Counter
	PendingReliable   prometheus.Gauge

	// 传输选择
	TransportSends *prometheus.CounterVec
	Connections    prometheus.Gauge
	Relayed        prometheus.Gauge

	// 延迟与 NAT
	PeerLatency *prometheus.GaugeVec
	LocalNAT    prometheus.Gauge

	// 校验
	Rejections *prometheus.CounterVec
	Kicks      prometheus.Counter
}

// New 创建并注册全部指标
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := func(c prometheus.Collector) { reg.MustRegister(c) }

	m := &Metrics{registry: reg}

	m.RPCSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "rpc", Name: "sent_total",
		Help: "RPC envelopes sent, by routing target.",
	}, []string{"target"})
	m.RPCReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "rpc", Name: "received_total",
		Help: "RPC envelopes delivered to a local handler, by routing target.",
	}, []string{"target"})
	m.RPCForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "rpc", Name: "forwarded_total",
		Help: "Envelopes relayed verbatim by the authoritative server.",
	})
	m.RPCDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "rpc", Name: "dropped_total",
		Help: "RPC calls or envelopes dropped, by reason.",
	}, []string{"reason"})

	m.ReliableSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reliable", Name: "sent_total",
		Help: "Reliable messages put in flight.",
	})
	m.ReliableRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reliable", Name: "retries_total",
		Help: "Reliable message retransmissions.",
	})
	m.ReliableAcked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reliable", Name: "acked_total",
		Help: "Reliable messages acknowledged by their destination.",
	})
	m.ReliableLost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reliable", Name: "lost_total",
		Help: "Reliable messages dropped after exhausting retries.",
	})
	m.DuplicatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reliable", Name: "duplicates_total",
		Help: "Inbound reliable messages discarded by deduplication.",
	})
	m.PendingReliable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "reliable", Name: "pending",
		Help: "Reliable messages awaiting acknowledgement.",
	})

	m.TransportSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "transport", Name: "sends_total",
		Help: "Datagrams handed to a transport, by transport and result.",
	}, []string{"transport", "result"})
	m.Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "transport", Name: "connections",
		Help: "Registered remote connections.",
	})
	m.Relayed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "transport", Name: "relayed_connections",
		Help: "Connections currently routed through the relay transport.",
	})

	m.PeerLatency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "liveness", Name: "latency_ms",
		Help: "Average round-trip latency per peer in milliseconds.",
	}, []string{"endpoint"})
	m.LocalNAT = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "nat", Name: "local_type",
		Help: "Local NAT classification (0 unknown, 1 open, 2 moderate, 3 strict, 4 blocked).",
	})

	m.Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "validator", Name: "rejections_total",
		Help: "Inputs rejected by the behavior validator, by kind.",
	}, []string{"kind"})
	m.Kicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "validator", Name: "kicks_total",
		Help: "Peers forcibly disconnected for accumulated suspicion.",
	})

	for _, c := range []prometheus.Collector{
		m.RPCSent, m.RPCReceived, m.RPCForwarded, m.RPCDropped,
		m.ReliableSent, m.ReliableRetries, m.ReliableAcked, m.ReliableLost,
		m.DuplicatesDropped, m.PendingReliable,
		m.TransportSends, m.Connections, m.Relayed,
		m.PeerLatency, m.LocalNAT,
		m.Rejections, m.Kicks,
	} {
		f(c)
	}
	return m
}

// Registry 返回节点私有的注册表，供 /metrics 暴露
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
