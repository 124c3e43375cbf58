// Package metrics exposes prometheus instrumentation for the sync server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collectors shared by the registry and room sessions.
type Metrics struct {
	RoomsActive         prometheus.Gauge
	ParticipantsActive  prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	ChatMessagesTotal   prometheus.Counter
	PlaybackEventsTotal prometheus.Counter
	BroadcastsDropped   prometheus.Counter
}

// New registers the collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchparty_rooms_active",
			Help: "Number of rooms currently alive, draining rooms included",
		}),
		ParticipantsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchparty_participants_active",
			Help: "Number of participants currently seated across all rooms",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_connections_total",
			Help: "Total websocket connections attached to a room",
		}),
		ChatMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_chat_messages_total",
			Help: "Total chat messages accepted and broadcast",
		}),
		PlaybackEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_playback_events_total",
			Help: "Total host playback transport events applied",
		}),
		BroadcastsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_broadcasts_dropped_total",
			Help: "Broadcasts dropped because a connection's outbound queue overflowed",
		}),
	}
	reg.MustRegister(
		m.RoomsActive,
		m.ParticipantsActive,
		m.ConnectionsTotal,
		m.ChatMessagesTotal,
		m.PlaybackEventsTotal,
		m.BroadcastsDropped,
	)
	return m
}
