package action

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "social",
		Subsystem: "friends",
		Name:      "actions_total",
		Help:      "Relationship actions by action and result.",
	}, []string{"action", "result"})

	inboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "social",
		Subsystem: "events",
		Name:      "inbound_total",
		Help:      "Inbound events by action and result.",
	}, []string{"action", "result"})

	dispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "social",
		Subsystem: "events",
		Name:      "dispatched_total",
		Help:      "Outbound events written to a session buffer.",
	}, []string{"action"})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "social",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Outbound events that were not delivered.",
	}, []string{"reason"})

	schemaViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "social",
		Subsystem: "events",
		Name:      "schema_violations_total",
		Help:      "Outbound events rejected by their own schema.",
	}, []string{"action"})
)

// result labels
const (
	resultOK          = "ok"
	resultValidation  = "validation"
	resultConflict    = "conflict"
	resultNotFound    = "not_found"
	resultPersistence = "persistence"
	resultLimited     = "rate_limited"
	resultError       = "error"
)
