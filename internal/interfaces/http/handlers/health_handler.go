package handlers

import (
	"net/http"

	"github.com/turtacn/WAL-Service/internal/application/transaction"
	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	factory      *messaging.Factory
	orchestrator *transaction.Orchestrator
	version      string
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(factory *messaging.Factory, orchestrator *transaction.Orchestrator, version string) *HealthHandler {
	return &HealthHandler{factory: factory, orchestrator: orchestrator, version: version}
}

// Liveness handles GET /healthz: the process is up.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

type readinessReport struct {
	Status       string                             `json:"status"`
	Transactions wal.ProducerHealth                 `json:"transactions"`
	Producers    map[string]wal.ProducerHealthEntry `json:"producers"`
}

// Readiness handles GET /readyz. The service is ready while the
// transaction orchestrator is not saturated; producer health is reported
// for observability but does not gate readiness, because the fallback
// ordering can keep the write path alive with any one backend up.
func (h *HealthHandler) Readiness(w http.ResponseWriter, _ *http.Request) {
	report := readinessReport{
		Status:       "ready",
		Transactions: h.orchestrator.Health(),
		Producers:    make(map[string]wal.ProducerHealthEntry),
	}
	for _, backend := range []wal.Backend{wal.BackendRedis, wal.BackendKafka, wal.BackendSQS} {
		if entry, ok := h.factory.Health(backend); ok {
			report.Producers[string(backend)] = entry
		}
	}

	status := http.StatusOK
	if report.Transactions == wal.HealthDegraded {
		report.Status = "degraded"
	}
	writeJSON(w, status, report)
}
