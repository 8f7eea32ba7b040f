package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhalpert/dunder_hedger/internal/models"
	"github.com/jhalpert/dunder_hedger/internal/storage"
)

func testServer(t *testing.T) (*Server, *storage.MockStorage, *Metrics) {
	t.Helper()
	store := storage.NewMockStorage()
	metrics := NewMetrics()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewServer(":0", store, metrics, logger), store, metrics
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCyclesEndpoint(t *testing.T) {
	srv, store, _ := testServer(t)

	cycle := &models.Cycle{
		ID: "cycle-1", AccountID: "acct-1", Underlying: "SPX",
		Status: models.CycleOpen, RuleSetName: "spx-default",
		RealizedPnL: 412.50, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateCycle(context.Background(), cycle))
	require.NoError(t, store.CreateTrade(context.Background(), &models.Trade{
		ID: "hedge-1", CycleID: "cycle-1", Role: models.RoleHedge, Status: models.TradeOpen,
		Legs: []models.Leg{{ID: "l1", TradeID: "hedge-1", Side: models.SideLong, Quantity: 2,
			Strike: 3800, OptionType: models.OptionPut, Symbol: "SPX240920P03800000", Active: true}},
	}, nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cycles", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var views []cycleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "acct-1", views[0].AccountID)
	assert.Equal(t, 1, views[0].OpenTrades)
	assert.True(t, views[0].HasHedge)
	assert.InDelta(t, 412.50, views[0].RealizedPnL, 1e-9)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, metrics := testServer(t)
	metrics.PassesTotal.WithLabelValues("acct-1").Inc()
	metrics.CycleStatesTotal.WithLabelValues("IDLE").Add(3)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `dunder_hedger_passes_total{account="acct-1"} 1`)
	assert.Contains(t, body, `dunder_hedger_cycle_states_total{state="IDLE"} 3`)
}
