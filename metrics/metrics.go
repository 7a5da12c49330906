package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessageOps 按操作名计数（send/react/mark_read/edit/delete）
	MessageOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulsechat",
		Subsystem: "chat",
		Name:      "message_ops_total",
		Help:      "Message operations by name and outcome.",
	}, []string{"op", "outcome"})

	RoomOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulsechat",
		Subsystem: "room",
		Name:      "room_ops_total",
		Help:      "Room operations by name and outcome.",
	}, []string{"op", "outcome"})

	// StoreConflicts CAS 冲突次数（含重试成功的）
	StoreConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulsechat",
		Subsystem: "store",
		Name:      "conflicts_total",
		Help:      "Optimistic-concurrency conflicts observed by the entity store.",
	})

	MaintenanceStep = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulsechat",
		Subsystem: "maintenance",
		Name:      "step_runs_total",
		Help:      "Maintenance step executions by step and outcome.",
	}, []string{"step", "outcome"})

	ArchivedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulsechat",
		Subsystem: "maintenance",
		Name:      "archived_messages_total",
		Help:      "Messages relocated to the archive collection.",
	})

	IndexEventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulsechat",
		Subsystem: "search",
		Name:      "index_events_total",
		Help:      "Search index events consumed by stage and outcome.",
	}, []string{"stage", "outcome"})
)

func Ok(v *prometheus.CounterVec, op string)   { v.WithLabelValues(op, "ok").Inc() }
func Fail(v *prometheus.CounterVec, op string) { v.WithLabelValues(op, "fail").Inc() }
