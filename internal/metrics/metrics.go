package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	InputEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_input_events_total",
			Help: "Input events received from the relay controller by role",
		},
		[]string{"role"},
	)

	InputEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_input_events_dropped_total",
			Help: "Malformed input events dropped",
		},
	)

	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_scans_total",
			Help: "Badge/QR scans by outcome",
		},
		[]string{"status"},
	)

	AuthorizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_authorizations_total",
			Help: "Remote authorization calls by result",
		},
		[]string{"result"},
	)

	AlarmsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_alarms_total",
			Help: "Door alarms raised by kind",
		},
		[]string{"kind"},
	)

	DoorOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_door_open",
			Help: "Whether the watchdog currently tracks an open cycle (1 = open)",
		},
	)

	DispatchDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_dispatch_dropped_total",
			Help: "Side-effect jobs dropped because the queue was full",
		},
	)

	DispatchFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_dispatch_failed_total",
			Help: "Side-effect jobs that returned an error or panicked",
		},
		[]string{"job"},
	)

	WatchdogTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_watchdog_tick_duration_seconds",
			Help:    "Time taken by one watchdog iteration",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(InputEventsTotal)
	prometheus.MustRegister(InputEventsDropped)
	prometheus.MustRegister(ScansTotal)
	prometheus.MustRegister(AuthorizationsTotal)
	prometheus.MustRegister(AlarmsTotal)
	prometheus.MustRegister(DoorOpen)
	prometheus.MustRegister(DispatchDropped)
	prometheus.MustRegister(DispatchFailed)
	prometheus.MustRegister(WatchdogTickDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
