package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_orders_created_total",
		Help: "Total number of orders successfully created.",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_order_transitions_total",
		Help: "Total number of committed order changes, by event type.",
	},
		[]string{"transition"},
	)

	StockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_stock_conflicts_total",
		Help: "Total number of workflow operations rejected because of a concurrent modification.",
	})

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)

	OrderCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "library_order_cache_items",
		Help: "Current number of items in the active order cache.",
	})

	OutboxTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_outbox_tasks_total",
		Help: "Outbox tasks handed to the producer, by result.",
	},
		[]string{"result"},
	)

	AuditEntriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "library_audit_entries_direct_total",
		Help: "Audit entries written directly because the batch queue was full or closed.",
	})
)
