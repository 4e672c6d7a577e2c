package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    PeersByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "glusterd",
        Name:      "peers",
        Help:      "Number of known peers per handshake state",
    }, []string{"state"})

    PeerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "glusterd",
        Name:      "peer_transitions_total",
        Help:      "Handshake state transitions by target state",
    }, []string{"to"})

    Probes = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "glusterd",
        Name:      "probes_total",
        Help:      "Outgoing peer probes by result code",
    }, []string{"result"})

    Volumes = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "glusterd",
        Name:      "volumes",
        Help:      "Number of volumes in the local catalog",
    })

    Transactions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "glusterd",
        Subsystem: "txn",
        Name:      "total",
        Help:      "Cluster transactions initiated by this node, by op and result code",
    }, []string{"op", "result"})

    PhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Namespace: "glusterd",
        Subsystem: "txn",
        Name:      "phase_duration_seconds",
        Help:      "Wall time of each transaction phase fan-out",
        Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
    }, []string{"phase"})

    LockBusy = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "glusterd",
        Subsystem: "txn",
        Name:      "lock_busy_total",
        Help:      "Cluster LOCK requests refused because another transaction held the lock",
    })

    EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "glusterd",
        Name:      "events_dropped_total",
        Help:      "Cluster events not delivered because a subscriber was full",
    }, []string{"type"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "glusterd",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "glusterd",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "glusterd",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "glusterd",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(PeersByState)
        prometheus.MustRegister(PeerTransitions)
        prometheus.MustRegister(Probes)
        prometheus.MustRegister(Volumes)
        prometheus.MustRegister(Transactions)
        prometheus.MustRegister(PhaseDuration)
        prometheus.MustRegister(LockBusy)
        prometheus.MustRegister(EventsDropped)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}
