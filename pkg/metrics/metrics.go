// Package metrics exports session and transport counters to Prometheus.
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rlink"

// Recorder holds the collectors for one agent.
type Recorder struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	retryAttempts   *prometheus.CounterVec
	failovers       prometheus.Counter
	rekeys          prometheus.Counter
	sessionState    *prometheus.GaugeVec
}

// New creates a Recorder and registers its collectors on reg. A nil reg
// uses prometheus.DefaultRegisterer. Collectors that are already
// registered are reused.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		packetsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "packets_sent_total",
				Help:      "Packets transmitted, by transport kind.",
			},
			[]string{"transport"},
		),
		packetsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "packets_received_total",
				Help:      "Packets received, by transport kind.",
			},
			[]string{"transport"},
		),
		transportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "errors_total",
				Help:      "Transport failures, by transport kind and error kind.",
			},
			[]string{"transport", "kind"},
		),
		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "retry_attempts_total",
				Help:      "Reconnect attempts, by transport kind.",
			},
			[]string{"transport"},
		),
		failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "failovers_total",
			Help:      "Promotions of a pending transport.",
		}),
		rekeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rekeys_total",
			Help:      "Completed cryptographic rekeys.",
		}),
		sessionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "state",
				Help:      "1 for the current session state, 0 otherwise.",
			},
			[]string{"state"},
		),
	}

	var err error
	if r.packetsSent, err = register(reg, r.packetsSent); err != nil {
		return nil, err
	}
	if r.packetsReceived, err = register(reg, r.packetsReceived); err != nil {
		return nil, err
	}
	if r.transportErrors, err = register(reg, r.transportErrors); err != nil {
		return nil, err
	}
	if r.retryAttempts, err = register(reg, r.retryAttempts); err != nil {
		return nil, err
	}
	if r.failovers, err = register(reg, r.failovers); err != nil {
		return nil, err
	}
	if r.rekeys, err = register(reg, r.rekeys); err != nil {
		return nil, err
	}
	if r.sessionState, err = register(reg, r.sessionState); err != nil {
		return nil, err
	}
	return r, nil
}

// register registers c, returning the existing collector when an
// identical one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// PacketSent counts one transmitted packet.
func (r *Recorder) PacketSent(transport string) {
	if r == nil {
		return
	}
	r.packetsSent.WithLabelValues(transport).Inc()
}

// PacketReceived counts one delivered packet.
func (r *Recorder) PacketReceived(transport string) {
	if r == nil {
		return
	}
	r.packetsReceived.WithLabelValues(transport).Inc()
}

// TransportError counts one classified failure.
func (r *Recorder) TransportError(transport, kind string) {
	if r == nil {
		return
	}
	r.transportErrors.WithLabelValues(transport, kind).Inc()
}

// RetryAttempt counts one reconnect attempt.
func (r *Recorder) RetryAttempt(transport string) {
	if r == nil {
		return
	}
	r.retryAttempts.WithLabelValues(transport).Inc()
}

// Failover counts one pending-transport promotion.
func (r *Recorder) Failover() {
	if r == nil {
		return
	}
	r.failovers.Inc()
}

// Rekey counts one completed rekey.
func (r *Recorder) Rekey() {
	if r == nil {
		return
	}
	r.rekeys.Inc()
}

// SetState marks state as current and clears prev.
func (r *Recorder) SetState(prev, state string) {
	if r == nil {
		return
	}
	if prev != "" && prev != state {
		r.sessionState.WithLabelValues(prev).Set(0)
	}
	r.sessionState.WithLabelValues(state).Set(1)
}
