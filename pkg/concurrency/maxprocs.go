package concurrency

import (
	"os"
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// SetMaxProcs matches GOMAXPROCS to the container CPU quota. Call it at the
// start of a long-running command; the returned function restores the
// previous value.
func SetMaxProcs(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	if err != nil {
		logger.Warn("Failed to set GOMAXPROCS", zap.Error(err))
		return func() {}
	}
	logger.Info("Concurrency initialized", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	return undo
}

// IsKubernetes reports whether the process runs in a Kubernetes pod.
func IsKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// DefaultWorkers sizes a worker pool for I/O-bound message processing from
// the effective CPU count: conservative under Kubernetes, wider elsewhere.
func DefaultWorkers() int {
	return defaultWorkers(IsKubernetes(), runtime.GOMAXPROCS(0))
}

func defaultWorkers(kubernetes bool, cpus int) int {
	if kubernetes {
		return max(cpus, 4)
	}
	return max(cpus*2, 8)
}
