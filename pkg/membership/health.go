package membership

// HealthReporter is implemented by layers that expose a health score. Higher
// is worse; -1 means not started.
type HealthReporter interface {
    HealthScore() int
}
