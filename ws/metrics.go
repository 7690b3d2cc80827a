package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	onlineUsersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pigeonhole_online_users",
		Help: "Number of users with at least one live connection.",
	})

	sessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pigeonhole_sessions",
		Help: "Number of live websocket sessions.",
	})

	routedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pigeonhole_routed_events_total",
		Help: "Events delivered to at least one live connection, by kind.",
	}, []string{"kind"})

	droppedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pigeonhole_dropped_events_total",
		Help: "Events dropped because the target had no live connection, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(onlineUsersGauge, sessionsGauge, routedEvents, droppedEvents)
}
