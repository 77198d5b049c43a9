package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// componentStat accumulates warn/error counts for a single component
// between report intervals.
type componentStat struct {
	warns  int64
	errors int64
}

var componentStats sync.Map // map[string]*componentStat

func recordWarn(component string) {
	stat := statFor(component)
	atomic.AddInt64(&stat.warns, 1)
}

func recordError(component string) {
	stat := statFor(component)
	atomic.AddInt64(&stat.errors, 1)
}

func statFor(component string) *componentStat {
	v, _ := componentStats.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

// StartReport periodically emits a per-component summary of warnings and
// errors seen since the previous report. Counters are reset after each
// report so every line covers exactly one interval.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emitReport(log)
			}
		}
	}()
}

func emitReport(log *Log) {
	componentStats.Range(func(key, value interface{}) bool {
		component := key.(string)
		stat := value.(*componentStat)

		warns := atomic.SwapInt64(&stat.warns, 0)
		errors := atomic.SwapInt64(&stat.errors, 0)
		if warns == 0 && errors == 0 {
			return true
		}

		log.WithComponent("report").WithFields(Fields{
			"reported_component": component,
			"warnings":           warns,
			"errors":             errors,
		}).Info("component health report")
		return true
	})
}
