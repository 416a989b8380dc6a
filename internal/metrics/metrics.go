// Package metrics exposes the process counters on the admin listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_ws_connections",
		Help: "Currently open websocket connections.",
	})

	DispatchPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_dispatch_pushes_total",
		Help: "Realtime event pushes by result.",
	}, []string{"result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_notifications_total",
		Help: "Offline notifications by result.",
	}, []string{"result"})

	NotifyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_notify_queue_depth",
		Help: "Pending entries in the notification queue.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
