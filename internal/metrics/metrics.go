package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wizwallet",
		Name:      "peers_connected",
		Help:      "Number of peers that completed the handshake.",
	})

	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wizwallet",
		Name:      "chain_height",
		Help:      "Height of the best known header.",
	})

	UTXOCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wizwallet",
		Name:      "utxo_count",
		Help:      "Number of unspent outputs tracked.",
	})

	WalletBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wizwallet",
		Name:      "wallet_balance_sats",
		Help:      "Spendable wallet balance in satoshis.",
	})

	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wizwallet",
		Name:      "messages_received_total",
		Help:      "Wire messages received by command.",
	}, []string{"command"})

	ProtocolErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wizwallet",
		Name:      "protocol_errors_total",
		Help:      "Connections closed because of a protocol violation.",
	})

	ScriptFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wizwallet",
		Name:      "script_failures_total",
		Help:      "Inputs that failed script validation.",
	})

	BlocksApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wizwallet",
		Name:      "blocks_applied_total",
		Help:      "Blocks applied to the UTXO set.",
	})

	BlocksRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wizwallet",
		Name:      "blocks_rejected_total",
		Help:      "Blocks rejected during validation.",
	})

	TxsBroadcast = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wizwallet",
		Name:      "txs_broadcast_total",
		Help:      "Wallet transactions broadcast to peers.",
	})

	RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wizwallet",
		Name:      "rpc_requests_total",
		Help:      "JSON-RPC calls by method and result.",
	}, []string{"method", "result"})
)

func init() {
	prometheus.MustRegister(
		PeersConnected,
		ChainHeight,
		UTXOCount,
		WalletBalance,
		MessagesReceived,
		ProtocolErrors,
		ScriptFailures,
		BlocksApplied,
		BlocksRejected,
		TxsBroadcast,
		RPCRequests,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
