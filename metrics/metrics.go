package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	registerOnce sync.Once

	tasksRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goamr",
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Task invocations by task name and outcome.",
		},
		[]string{"rank", "task", "status"},
	)
	idleScans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goamr",
			Subsystem: "scheduler",
			Name:      "idle_scans_total",
			Help:      "Scans over the block list that made no progress.",
		},
		[]string{"rank"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goamr",
			Subsystem: "scheduler",
			Name:      "stage_duration_seconds",
			Help:      "Wall time to complete one stage on one rank.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"rank"},
	)
	exchangeValues = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goamr",
			Subsystem: "exchange",
			Name:      "values_total",
			Help:      "Ghost values packed, by level relation and locality.",
		},
		[]string{"level", "remote"},
	)
	meshEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goamr",
			Subsystem: "mesh",
			Name:      "events_total",
			Help:      "Regrid and rebalance events.",
		},
		[]string{"event"},
	)
	loadImbalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "goamr",
			Subsystem: "loadbalance",
			Name:      "imbalance_ratio",
			Help:      "Maximum rank cost over mean rank cost after the last balance.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(tasksRun, idleScans, stageDuration, exchangeValues,
			meshEvents, loadImbalance)
	})
}

func RecordTask(rank int, task, status string) {
	RegisterMetrics()
	tasksRun.WithLabelValues(strconv.Itoa(rank), task, status).Inc()
}

func RecordIdleScan(rank int) {
	RegisterMetrics()
	idleScans.WithLabelValues(strconv.Itoa(rank)).Inc()
}

func RecordStage(rank int, duration time.Duration) {
	RegisterMetrics()
	stageDuration.WithLabelValues(strconv.Itoa(rank)).Observe(duration.Seconds())
}

// RecordExchange counts packed values; levelDelta is the sender level
// relative to the receiver
func RecordExchange(levelDelta, values int, remote bool) {
	RegisterMetrics()
	level := "same"
	switch {
	case levelDelta < 0:
		level = "coarser"
	case levelDelta > 0:
		level = "finer"
	}
	exchangeValues.WithLabelValues(level, strconv.FormatBool(remote)).Add(float64(values))
}

func RecordMeshEvent(event string) {
	RegisterMetrics()
	meshEvents.WithLabelValues(event).Inc()
}

func RecordImbalance(ratio float64) {
	RegisterMetrics()
	loadImbalance.Set(ratio)
}

// Serve exposes the default registry on addr until the server is shut down
func Serve(addr string) (srv *http.Server) {
	RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics endpoint stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return
}
