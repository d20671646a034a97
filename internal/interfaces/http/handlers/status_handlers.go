package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/WAL-Service/internal/application/transaction"
	"github.com/turtacn/WAL-Service/internal/domain/namespace"
	"github.com/turtacn/WAL-Service/internal/interfaces/http/middleware"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// NamespaceHandler serves the namespace status read route.
type NamespaceHandler struct {
	registry *namespace.Registry
}

// NewNamespaceHandler constructs a NamespaceHandler.
func NewNamespaceHandler(registry *namespace.Registry) *NamespaceHandler {
	return &NamespaceHandler{registry: registry}
}

// namespaceStatus is the read-route projection of a policy record. Shard
// and limit settings are visible; nothing secret lives in policy.
type namespaceStatus struct {
	Name            string                  `json:"name"`
	Enabled         bool                    `json:"enabled"`
	Backend         wal.Backend             `json:"backend"`
	TopicName       string                  `json:"topicName"`
	ShardConfig     namespace.ShardConfig   `json:"shardConfig"`
	MaxMessageSize  int                     `json:"maxMessageSize"`
	MaxDelaySeconds int64                   `json:"maxDelaySeconds"`
	CacheStats      namespace.RegistryStats `json:"cacheStats"`
}

// Get handles GET /wal/namespaces/{name}.
func (h *NamespaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.ContextRequestID(r.Context())
	name := chi.URLParam(r, "name")

	ns, err := h.registry.Get(r.Context(), name)
	if err != nil {
		writeAppError(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, namespaceStatus{
		Name:            ns.Name,
		Enabled:         ns.Enabled,
		Backend:         ns.Backend,
		TopicName:       ns.Topic(),
		ShardConfig:     ns.ShardConfig,
		MaxMessageSize:  ns.EffectiveMaxMessageSize(),
		MaxDelaySeconds: ns.EffectiveMaxDelaySeconds(),
		CacheStats:      h.registry.Stats(),
	})
}

// TransactionHandler serves the transaction status read route.
type TransactionHandler struct {
	orchestrator *transaction.Orchestrator
}

// NewTransactionHandler constructs a TransactionHandler.
func NewTransactionHandler(orchestrator *transaction.Orchestrator) *TransactionHandler {
	return &TransactionHandler{orchestrator: orchestrator}
}

type transactionStatus struct {
	Health      wal.ProducerHealth   `json:"health"`
	ActiveCount int                  `json:"activeCount"`
	Active      []transaction.Record `json:"active"`
}

// List handles GET /wal/transactions.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, transactionStatus{
		Health:      h.orchestrator.Health(),
		ActiveCount: h.orchestrator.ActiveCount(),
		Active:      h.orchestrator.Snapshot(),
	})
}
