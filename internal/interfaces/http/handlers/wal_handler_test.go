package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/WAL-Service/internal/application/audit"
	"github.com/turtacn/WAL-Service/internal/application/ingestion"
	"github.com/turtacn/WAL-Service/internal/application/transaction"
	"github.com/turtacn/WAL-Service/internal/domain/identity"
	"github.com/turtacn/WAL-Service/internal/domain/namespace"
	"github.com/turtacn/WAL-Service/internal/infrastructure/messaging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/turtacn/WAL-Service/internal/interfaces/http"
	"github.com/turtacn/WAL-Service/internal/interfaces/http/handlers"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

const testAPIKey = "abcdefghijklmnop"

type routerFake struct {
	healthy bool
	fail    bool
}

func (f *routerFake) Send(_ context.Context, msg *wal.ProducerMessage) (*wal.ProducerResult, error) {
	if f.fail {
		return &wal.ProducerResult{Success: false, Error: "backend down"}, nil
	}
	return &wal.ProducerResult{
		MessageID: msg.Headers["message-id"],
		Success:   true,
		Durable:   true,
		Timestamp: time.Now(),
	}, nil
}

func (f *routerFake) SendBatch(ctx context.Context, msgs []*wal.ProducerMessage) ([]*wal.ProducerResult, error) {
	out := make([]*wal.ProducerResult, 0, len(msgs))
	for _, m := range msgs {
		r, _ := f.Send(ctx, m)
		out = append(out, r)
	}
	return out, nil
}

func (f *routerFake) HealthCheck(_ context.Context) bool { return f.healthy }
func (f *routerFake) HealthStatus(_ context.Context) wal.ProducerHealthEntry {
	return wal.ProducerHealthEntry{Status: wal.HealthHealthy, LastCheck: time.Now()}
}
func (f *routerFake) Connect(_ context.Context) error    { return nil }
func (f *routerFake) Disconnect(_ context.Context) error { return nil }
func (f *routerFake) Backend() wal.Backend               { return wal.BackendRedis }
func (f *routerFake) Metrics() messaging.ProducerStats   { return messaging.ProducerStats{} }

// newTestRouter wires a real router over fake producers.
func newTestRouter(t *testing.T, fake *routerFake) http.Handler {
	t.Helper()
	log := logging.NewNopLogger()

	ns := &namespace.Namespace{
		Name:    "user-cache-replication",
		Enabled: true,
		Backend: wal.BackendRedis,
		ShardConfig: namespace.ShardConfig{
			Strategy:       namespace.StrategyHash,
			PartitionCount: 10,
		},
		MaxMessageSize:  1 << 20,
		MaxDelaySeconds: 86400,
	}
	registry := namespace.NewRegistry(namespace.NewSeededStore(ns), time.Minute, log)

	builders := map[wal.Backend]messaging.Builder{}
	for _, b := range []wal.Backend{wal.BackendRedis, wal.BackendKafka, wal.BackendSQS} {
		builders[b] = func(_ context.Context) (messaging.Producer, error) { return fake, nil }
	}

	metrics := prometheus.NewAppMetrics(prometheus.NewNopCollector())
	factory := messaging.NewFactory(builders, time.Minute, metrics, log)
	orchestrator := transaction.New(30*time.Second, nil, metrics, log)

	service := ingestion.NewService(ingestion.Config{
		Registry:     registry,
		Enricher:     ingestion.NewEnricher(registry, nil, log),
		Factory:      factory,
		Orchestrator: orchestrator,
		Partitioner:  identity.NewPartitioner(),
		Audit:        audit.NewEmitter(nil, "", log),
		Metrics:      metrics,
		Logger:       log,
	})

	return httpserver.NewRouter(httpserver.RouterConfig{
		WALHandler:         handlers.NewWALHandler(service),
		NamespaceHandler:   handlers.NewNamespaceHandler(registry),
		TransactionHandler: handlers.NewTransactionHandler(orchestrator),
		HealthHandler:      handlers.NewHealthHandler(factory, orchestrator, "test"),
		RequestTimeout:     5 * time.Second,
		Logger:             log,
	})
}

func writeRequest(body string, apiKey string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/wal/write", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req
}

const happyBody = `{
	"namespace": "user-cache-replication",
	"payload": {"k": "v"},
	"target": {"type": "cache", "identifier": "r1", "config": {"regions": ["us-east-1"], "operation": "SET"}}
}`

func TestWrite_Accepted(t *testing.T) {
	router := newTestRouter(t, &routerFake{healthy: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, writeRequest(happyBody, testAPIKey))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp wal.WriteToLogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "persisted", resp.Durable)
	assert.Regexp(t, `^wal_\d{13}_[a-f0-9]{16}$`, resp.MessageID)
	require.NotNil(t, resp.Metadata)
	assert.Equal(t, "immediate", resp.Metadata.ProcessingMode)
	assert.False(t, resp.Metadata.HasDelay)
}

func TestWrite_EchoesRequestID(t *testing.T) {
	router := newTestRouter(t, &routerFake{healthy: true})

	req := writeRequest(happyBody, testAPIKey)
	req.Header.Set("X-Request-ID", "req_1700000000000_abcdef012345")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "req_1700000000000_abcdef012345", rec.Header().Get("X-Request-ID"))
}

func TestWrite_UnknownNamespace_404(t *testing.T) {
	router := newTestRouter(t, &routerFake{healthy: true})

	body := `{"namespace": "does-not-exist", "payload": {"k": "v"}, "target": {"type": "cache"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, writeRequest(body, testAPIKey))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "NAMESPACE_NOT_FOUND", resp.Code)
	assert.False(t, resp.Retryable)
}

func TestWrite_MissingAPIKey_401(t *testing.T) {
	router := newTestRouter(t, &routerFake{healthy: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, writeRequest(happyBody, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrite_BadAPIKey_401(t *testing.T) {
	router := newTestRouter(t, &routerFake{healthy: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, writeRequest(happyBody, "short!"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrite_MalformedBody_400(t *testing.T) {
	router := newTestRouter(t, &routerFake{healthy: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, writeRequest(`{"namespace": `, testAPIKey))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, writeRequest(`{"payload": {"k":"v"}, "target": {"type":"cache"}}`, testAPIKey))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing namespace")
}

func TestWrite_AllBackendsDown_503(t *testing.T) {
	router := newTestRouter(t, &routerFake{healthy: false})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, writeRequest(happyBody, testAPIKey))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PRODUCER_UNAVAILABLE", resp.Code)
	assert.True(t, resp.Retryable)
}

func TestNamespaceStatusRoute(t *testing.T) {
	router := newTestRouter(t, &routerFake{healthy: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wal/namespaces/user-cache-replication", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"user-cache-replication"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wal/namespaces/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransactionStatusRoute(t *testing.T) {
	router := newTestRouter(t, &routerFake{healthy: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wal/transactions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"activeCount":0`)
	assert.Contains(t, rec.Body.String(), `"health":"healthy"`)
}

func TestHealthRoutes(t *testing.T) {
	router := newTestRouter(t, &routerFake{healthy: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
