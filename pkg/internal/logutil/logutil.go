package logutil

import (
    "io"
    "os"
    "strings"
    "sync/atomic"

    "github.com/sirupsen/logrus"
)

var jsonMode atomic.Bool

func init() {
    if os.Getenv("GLUSTERD_LOG_JSON") == "1" || os.Getenv("GLUSTERD_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
}

func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// New returns a logger honouring GLUSTERD_LOG_JSON/GLUSTERD_LOG_FORMAT and
// GLUSTERD_LOG_LEVEL.
func New() *logrus.Logger {
    l := logrus.New()
    l.SetOutput(os.Stderr)
    if jsonMode.Load() {
        l.SetFormatter(&logrus.JSONFormatter{})
    } else {
        l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
    }
    if lv := os.Getenv("GLUSTERD_LOG_LEVEL"); lv != "" {
        if parsed, err := logrus.ParseLevel(strings.ToLower(lv)); err == nil { l.SetLevel(parsed) }
    }
    return l
}

// Discard returns a logger that drops everything; tests use it.
func Discard() *logrus.Logger {
    l := logrus.New()
    l.SetOutput(io.Discard)
    return l
}

// OrNew returns l, or a fresh logger when l is nil.
func OrNew(l *logrus.Logger) *logrus.Logger {
    if l == nil { return New() }
    return l
}

func NodeEntry(l *logrus.Logger, node string) *logrus.Entry {
    return OrNew(l).WithField("node", node)
}

func PeerEntry(e *logrus.Entry, peer, addr string) *logrus.Entry {
    return e.WithFields(logrus.Fields{"peer": peer, "addr": addr})
}

func TxnEntry(e *logrus.Entry, id uint64, op string) *logrus.Entry {
    return e.WithFields(logrus.Fields{"txn": id, "op": op})
}
