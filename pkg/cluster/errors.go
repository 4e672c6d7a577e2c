package cluster

import "errors"

var (
    ErrNotStarted = errors.New("cluster: not started")
    ErrStopped    = errors.New("cluster: stopped")
)
