package observability

import (
	"sync"
	"time"

	"github.com/arx-os/arxlink/internal/mesh"
	"github.com/arx-os/arxlink/internal/protocol/frame"
	"github.com/arx-os/arxlink/internal/protocol/replay"
	"github.com/arx-os/arxlink/internal/radio"
	"github.com/arx-os/arxlink/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "arxlink"

var (
	registerOnce sync.Once

	frameDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "frame_duration_seconds",
			Help:      "Time to authenticate, dispatch and merge one received frame.",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
		},
		[]string{"node", "decision"},
	)
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "submissions_total",
			Help:      "Locally submitted objects and detail packets.",
		},
		[]string{"node", "kind", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(frameDuration, submissions)
	})
}

func RecordFrame(node, decision string, duration time.Duration) {
	RegisterMetrics()
	frameDuration.WithLabelValues(node, decision).Observe(duration.Seconds())
}

func RecordSubmission(node, kind string, err error) {
	RegisterMetrics()
	success := "true"
	if err != nil {
		success = "false"
	}
	submissions.WithLabelValues(node, kind, success).Inc()
}

// LoopStats are the node runtime's own counters.
type LoopStats struct {
	RXDropped  uint64
	SinkErrors uint64
	TXErrors   uint64
	Stalled    int
}

// Sources reads live counters from a running node. Nil fields are skipped.
type Sources struct {
	Frame    func() frame.Stats
	Replay   func() replay.Stats
	Registry func() registry.Stats
	Mesh     func() mesh.Stats
	Radio    func() radio.Stats
	Loop     func() LoopStats
}

type funcMetric struct {
	subsystem string
	name      string
	help      string
	gauge     bool
	value     func() float64
}

// RegisterSources exposes src on reg as counter and gauge funcs labelled with
// node. Counters are read at scrape time; nothing is copied in between.
func RegisterSources(reg prometheus.Registerer, node string, src Sources) error {
	var ms []funcMetric
	if f := src.Frame; f != nil {
		ms = append(ms,
			funcMetric{"frame", "accepted_total", "Frames that passed authentication and replay checks.", false, func() float64 { return float64(f().Accepted) }},
			funcMetric{"frame", "bad_mac_total", "Frames rejected for a MAC mismatch.", false, func() float64 { return float64(f().BadMAC) }},
			funcMetric{"frame", "replay_total", "Frames rejected as replays.", false, func() float64 { return float64(f().Replay) }},
			funcMetric{"frame", "unknown_sender_total", "Frames from senders without a key.", false, func() float64 { return float64(f().UnknownSender) }},
			funcMetric{"frame", "malformed_total", "Frames that could not be parsed.", false, func() float64 { return float64(f().Malformed) }},
			funcMetric{"frame", "relayed_total", "Frames re-sealed for relay.", false, func() float64 { return float64(f().Relayed) }},
			funcMetric{"frame", "persist_errors_total", "Frames rejected because their replay mark could not be stored.", false, func() float64 { return float64(f().PersistErrors) }},
		)
	}
	if f := src.Replay; f != nil {
		ms = append(ms,
			funcMetric{"replay", "entries", "Senders tracked by the replay table.", true, func() float64 { return float64(f().Entries) }},
			funcMetric{"replay", "evictions_total", "Senders evicted from the replay table.", false, func() float64 { return float64(f().Evictions) }},
		)
	}
	if f := src.Registry; f != nil {
		ms = append(ms,
			funcMetric{"registry", "objects", "Objects with a known baseline.", true, func() float64 { return float64(f().Objects) }},
			funcMetric{"registry", "pending", "Detail packets waiting for a missing level.", true, func() float64 { return float64(f().Pending) }},
			funcMetric{"registry", "applied_total", "Detail packets merged.", false, func() float64 { return float64(f().Applied) }},
			funcMetric{"registry", "stale_total", "Detail packets already covered.", false, func() float64 { return float64(f().Stale) }},
			funcMetric{"registry", "buffered_total", "Detail packets queued out of order.", false, func() float64 { return float64(f().Buffered) }},
			funcMetric{"registry", "dropped_total", "Detail packets dropped by a full or duplicate queue.", false, func() float64 { return float64(f().Dropped) }},
			funcMetric{"registry", "rejected_total", "Detail packets that did not fit their object.", false, func() float64 { return float64(f().Rejected) }},
		)
	}
	if f := src.Mesh; f != nil {
		ms = append(ms,
			funcMetric{"mesh", "received_total", "Frames handed to the dispatcher.", false, func() float64 { return float64(f().Received) }},
			funcMetric{"mesh", "dropped_total", "Frames neither accepted nor forwarded.", false, func() float64 { return float64(f().Dropped) }},
			funcMetric{"mesh", "accepted_total", "Frames accepted locally.", false, func() float64 { return float64(f().Accepted) }},
			funcMetric{"mesh", "forwarded_total", "Frames relayed.", false, func() float64 { return float64(f().Forwarded) }},
			funcMetric{"mesh", "undecodable_total", "Authenticated frames with an unknown payload.", false, func() float64 { return float64(f().Undecodable) }},
		)
	}
	if f := src.Radio; f != nil {
		ms = append(ms,
			funcMetric{"radio", "sent_total", "Frames transmitted.", false, func() float64 { return float64(f().Sent) }},
			funcMetric{"radio", "received_total", "Frames received.", false, func() float64 { return float64(f().Received) }},
			funcMetric{"radio", "overflow_total", "Frames dropped by a full receive queue.", false, func() float64 { return float64(f().Overflow) }},
			funcMetric{"radio", "tx_errors_total", "Transmit failures after retries.", false, func() float64 { return float64(f().TxErrors) }},
		)
	}
	if f := src.Loop; f != nil {
		ms = append(ms,
			funcMetric{"node", "rx_dropped_total", "Frames dropped by the node receive queue.", false, func() float64 { return float64(f().RXDropped) }},
			funcMetric{"node", "sink_errors_total", "Storage sink failures.", false, func() float64 { return float64(f().SinkErrors) }},
			funcMetric{"node", "tx_errors_total", "Frames the node failed to transmit.", false, func() float64 { return float64(f().TXErrors) }},
			funcMetric{"node", "stalled_objects", "Objects waiting on a missing detail level.", true, func() float64 { return float64(f().Stalled) }},
		)
	}

	labels := prometheus.Labels{"node": node}
	for _, m := range ms {
		var c prometheus.Collector
		if m.gauge {
			c = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: m.subsystem, Name: m.name, Help: m.help, ConstLabels: labels,
			}, m.value)
		} else {
			c = prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: m.subsystem, Name: m.name, Help: m.help, ConstLabels: labels,
			}, m.value)
		}
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
