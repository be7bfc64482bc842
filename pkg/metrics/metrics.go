// Package metrics exposes live completion counters over HTTP in Prometheus
// format while a job runs, for watching long benchmarks from the outside.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/runningwild/spindle/pkg/engine"
)

// Serve registers counters backed by the job's live stats and starts the
// endpoint in the background. Serving is best-effort; a dead listener must
// not take the benchmark down with it.
func Serve(addr string, live *engine.LiveStats) {
	reg := prometheus.NewRegistry()

	counter := func(name, help string, read func() uint64) {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "spindle",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read()) }))
	}

	counter("io_total", "Completed I/O operations.", live.Ops.Load)
	counter("io_read_total", "Completed read operations.", live.ReadOps.Load)
	counter("io_write_total", "Completed write operations.", live.WriteOps.Load)
	counter("bytes_total", "Bytes transferred.", live.Bytes.Load)
	counter("bytes_read_total", "Bytes read.", live.ReadBytes.Load)
	counter("bytes_written_total", "Bytes written.", live.WriteBytes.Load)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warnf("metrics endpoint on %s failed: %v", addr, err)
		}
	}()
}
