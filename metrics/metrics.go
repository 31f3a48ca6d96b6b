package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "wraith"
	subsystem = "supervisor"
)

// statusCodes maps a server status onto the value exported for it.
var statusCodes = map[string]float64{
	"stopped":  0,
	"starting": 1,
	"running":  2,
	"crashed":  3,
}

var (
	bootTimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "boot_time_seconds",
		Help:      "Boot time of this instance since epoch (1970)",
	})
	timeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "time_seconds",
		Help:      "System time in seconds since epoch (1970)",
	})

	ServerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "server_status",
		Help:      "Status of a server: 0 stopped, 1 starting, 2 running, 3 crashed",
	}, []string{"server"})
	ServerCrashes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "server_crashes_total",
		Help:      "Number of times a server process was found dead",
	}, []string{"server"})
	ServerLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "server_launches_total",
		Help:      "Number of launch attempts of a server by result",
	}, []string{"server", "result"})
	FleetServers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "fleet_servers",
		Help:      "Number of servers tracked by the supervisor",
	})
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tick_duration_seconds",
		Help:      "Time taken by a single pass of the watchdog",
		Buckets:   prometheus.DefBuckets,
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_requests_total",
	}, []string{"method", "route_path", "code"})
)

// Initialize records the boot time and keeps the time gauge current until the
// context is canceled.
func Initialize(ctx context.Context) {
	bootTimeSeconds.Set(float64(time.Now().UnixNano()) / 1e9)
	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Debug("metrics: done")
				return
			case t := <-ticker.C:
				timeSeconds.Set(float64(t.UnixNano()) / 1e9)
			}
		}
	}()
}

// Handler returns the handler serving every registered collector.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetServerStatus exports the current status of a server.
func SetServerStatus(name, status string) {
	ServerStatus.WithLabelValues(name).Set(statusCodes[status])
}

// DeleteServer will remove any existing labels from being scraped by Prometheus.
// Any previously scraped data will still be persisted by Prometheus.
func DeleteServer(name string) {
	ServerStatus.DeleteLabelValues(name)
	ServerCrashes.DeleteLabelValues(name)
	ServerLaunches.DeletePartialMatch(prometheus.Labels{"server": name})
}
