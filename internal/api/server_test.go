package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-forecast/internal/auth"
	"inventory-forecast/internal/features"
	"inventory-forecast/internal/logging"
	"inventory-forecast/internal/metrics"
	"inventory-forecast/internal/ml"
	"inventory-forecast/internal/retrain"
	"inventory-forecast/internal/storage"
)

// stockTree predicts urgente when stock_actual <= 50, mantener otherwise
// unless proyeccion_72h is above 100.
func stockTree() *ml.DecisionTree {
	return &ml.DecisionTree{
		Features: 9,
		Classes:  3,
		Params:   ml.DefaultTreeParams(),
		Root: &ml.Node{
			Feature:   4,
			Threshold: 50,
			Left:      &ml.Node{Feature: -1, Value: []float64{0, 1, 19}, Samples: 20},
			Right: &ml.Node{
				Feature:   7,
				Threshold: 100,
				Left:      &ml.Node{Feature: -1, Value: []float64{18, 2, 0}, Samples: 20},
				Right:     &ml.Node{Feature: -1, Value: []float64{2, 16, 2}, Samples: 20},
			},
		},
	}
}

func testBundle(t *testing.T, version string) *ml.ModelBundle {
	t.Helper()
	enc, err := ml.NewLabelEncoder([]string{"mantener", "reabastecer", "urgente"})
	require.NoError(t, err)
	return &ml.ModelBundle{
		Spec:     features.DefaultSpec(),
		Aliases:  features.DefaultAliasTable(),
		Model:    stockTree(),
		Encoder:  enc,
		Metadata: ml.ModelMetadata{Version: version, Features: features.DefaultFeatureNames()},
		LoadedAt: time.Now(),
	}
}

type testEnv struct {
	server    *Server
	validator *auth.Validator
	metrics   *metrics.Metrics
	audit     *bytes.Buffer
	store     *storage.Store
	events    *EventHub
	loads     *atomic.Int32
	failLoad  *atomic.Bool
}

type envOption func(*Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	validator, err := auth.NewValidator("test_secret", "HS256")
	require.NoError(t, err)

	env := &testEnv{
		validator: validator,
		metrics:   metrics.NewWithRegistry(prometheus.NewRegistry()),
		audit:     &bytes.Buffer{},
		loads:     &atomic.Int32{},
		failLoad:  &atomic.Bool{},
	}

	loader := ml.LoaderFunc(func() (*ml.ModelBundle, error) {
		if env.failLoad.Load() {
			return nil, errors.New("modelo_cart.json: no such file or directory")
		}
		n := env.loads.Add(1)
		return testBundle(t, fmt.Sprintf("cart_v%d", n)), nil
	})

	mw := metrics.NewWrapper(env.metrics)
	holder := ml.NewModelHolder(loader, mw)

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	env.store = store

	env.events = NewEventHub(16)
	env.events.Start()
	t.Cleanup(env.events.Stop)

	deps := Deps{
		Holder:    holder,
		Predictor: ml.NewPredictor(holder, mw),
		Validator: validator,
		Audit:     logging.NewAuditLoggerWriter(env.audit),
		Store:     store,
		Metrics:   mw,
		Events:    env.events,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	env.server, err = NewServer(deps)
	require.NoError(t, err)
	return env
}

func (e *testEnv) token(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := e.validator.Issue(user, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/status", env.token(t, "ana", "operador"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "IA operativa", body["message"])
	assert.Equal(t, "ana", body["user"])

	rec = env.do(t, http.MethodGet, "/api/v1/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token inválido o no autorizado", decode(t, rec)["detail"])
}

func TestRecommendation(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "ana", "operador")

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantLabel  string
	}{
		{
			name:       "canonical names",
			body:       `{"consumo_7d": 10, "consumo_30d": 40, "promedio_12m": 35, "dias_desde_ultima_entrega": 3, "stock_actual": 20, "stock_capacidad": 500, "solicitudes_pendientes": 2, "proyeccion_72h": 30, "indicador_riesgo": 0.4}`,
			wantStatus: http.StatusOK,
			wantLabel:  "urgente",
		},
		{
			name:       "aliases and strings",
			body:       `{"Stock Actual": "300", "proyeccion-72h": 80, "entregas_pendientes": 4, "extra": true}`,
			wantStatus: http.StatusOK,
			wantLabel:  "mantener",
		},
		{
			name:       "empty object defaults to zeros",
			body:       `{}`,
			wantStatus: http.StatusOK,
			wantLabel:  "urgente",
		},
		{
			name:       "nested value rejected",
			body:       `{"stock_actual": {"value": 3}}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "array body rejected",
			body:       `[1, 2, 3]`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "malformed json",
			body:       `{"stock_actual": `,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/recommendations", tok, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decode(t, rec)
			if tt.wantStatus != http.StatusOK {
				assert.IsType(t, []any{}, body["detail"])
				return
			}
			assert.Equal(t, tt.wantLabel, body["prediction"])
			assert.Equal(t, "cart_v1", body["model_version"])
			assert.Contains(t, body, "timestamp")
			probs, ok := body["probabilities"].(map[string]any)
			require.True(t, ok)
			assert.Len(t, probs, 3)
		})
	}
}

func TestRecommendation_SideEffects(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "ana", "operador")

	start := time.Now().Add(-time.Second)
	rec := env.do(t, http.MethodPost, "/api/v1/recommendations", tok, `{"stock_actual": 10, "columna_rara": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(env.audit.Bytes()), &line))
	assert.Equal(t, "recommendation", line["event"])
	assert.Equal(t, "ana", line["user"])
	assert.Equal(t, "urgente", line["prediction"])

	records, err := env.store.GetPredictionsInRange(start, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 10.0, records[0].Features["stock_actual"])
	assert.Contains(t, records[0].Unmapped, "columna_rara")
	assert.Contains(t, records[0].Defaulted, "consumo_7d")

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MLPredictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HTTPRequests.WithLabelValues("/api/v1/recommendations", "200")))
}

func TestRecommendation_ModelUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.failLoad.Store(true)

	rec := env.do(t, http.MethodPost, "/api/v1/recommendations", env.token(t, "ana", "operador"), `{"stock_actual": 1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Modelo no disponible", decode(t, rec)["detail"])
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MLFailures))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	env.failLoad.Store(true)
	rec := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, decode(t, rec)["model_loaded"])

	env.failLoad.Store(false)
	rec = env.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["healthy"])
	assert.Equal(t, "cart_v1", body["model_version"])
}

func TestRetrain(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client, err := retrain.Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()
	queue := retrain.NewQueue(client, "forecast:retrain")

	env := newTestEnv(t, func(d *Deps) { d.Queue = queue })

	rec := env.do(t, http.MethodPost, "/api/v1/retrain", env.token(t, "ana", "operador"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Solo admin puede reentrenar el modelo.", decode(t, rec)["detail"])

	rec = env.do(t, http.MethodPost, "/api/v1/retrain", env.token(t, "root", "admin"), `{"reason": "drift semanal"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Reentrenamiento en cola.", body["message"])
	assert.Equal(t, true, body["queued"])

	job, err := queue.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "root", job.RequestedBy)
	assert.Equal(t, "drift semanal", job.Reason)
	assert.Equal(t, body["job_id"], job.ID)

	rec = env.do(t, http.MethodPost, "/api/v1/retrain", env.token(t, "root", "admin"), `{"force": true}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RetrainRequests.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RetrainRequests.WithLabelValues("rejected")))

	events, err := env.store.GetEventsInRange(time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "retrain_request", events[0].Kind)
}

func TestRetrain_WithoutQueue(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/retrain", env.token(t, "root", "admin"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Reentrenamiento en cola.", body["message"])
	assert.Equal(t, false, body["queued"])
	assert.Contains(t, env.audit.String(), "retrain_request")
}

func TestRetrain_QueueDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client, err := retrain.Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()
	mr.Close()

	env := newTestEnv(t, func(d *Deps) { d.Queue = retrain.NewQueue(client, "q") })
	rec := env.do(t, http.MethodPost, "/api/v1/retrain", env.token(t, "root", "admin"), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReload(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, "root", "admin")

	rec := env.do(t, http.MethodPost, "/api/v1/model/reload", env.token(t, "ana", "operador"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/model/reload", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cart_v1", decode(t, rec)["model_version"])

	rec = env.do(t, http.MethodPost, "/api/v1/model/reload", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cart_v2", decode(t, rec)["model_version"])

	env.failLoad.Store(true)
	rec = env.do(t, http.MethodPost, "/api/v1/model/reload", admin, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// previous model keeps serving
	rec = env.do(t, http.MethodPost, "/api/v1/recommendations", admin, `{"stock_actual": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cart_v2", decode(t, rec)["model_version"])

	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.MLModelReloads.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MLModelReloads.WithLabelValues("failure")))
}

func TestModelInfo(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/model/info", env.token(t, "ana", "operador"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "cart_v1", body["model_version"])
	assert.Len(t, body["features"], 9)
	aliases, ok := body["aliases"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, aliases)
}

func TestNotFoundAndMethod(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decode(t, rec)["detail"])

	rec = env.do(t, http.MethodGet, "/api/v1/recommendations", env.token(t, "ana", "operador"), "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEvents_WebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	tok := env.token(t, "ana", "operador")
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, EventHello, hello.Type)

	require.Eventually(t, func() bool { return env.events.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/recommendations", strings.NewReader(`{"stock_actual": 10}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventRecommendation, ev.Type)
	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "urgente", data["prediction"])
}

func TestEvents_RequiresToken(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventHub_PublishDropsWhenFull(t *testing.T) {
	hub := NewEventHub(1)
	hub.Publish(Event{Type: "a"})
	hub.Publish(Event{Type: "b"})
	assert.Len(t, hub.broadcast, 1)

	var nilHub *EventHub
	nilHub.Publish(Event{Type: "c"})
}

func TestHTTPServerTimeouts(t *testing.T) {
	env := newTestEnv(t)
	srv := env.server.HTTPServer(8000)
	assert.Equal(t, ":8000", srv.Addr)
	assert.Equal(t, 10*time.Second, srv.ReadTimeout)
	assert.Equal(t, 10*time.Second, srv.WriteTimeout)
	assert.Equal(t, 120*time.Second, srv.IdleTimeout)
}
