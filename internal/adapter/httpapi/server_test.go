package httpapi

import (
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketfi/fund-backend/internal/guard"
	"github.com/basketfi/fund-backend/internal/usecase/burn"
	"github.com/basketfi/fund-backend/internal/usecase/mint"
	"github.com/basketfi/fund-backend/internal/usecase/rebalance"
)

func newTestServer(t *testing.T, coord *guard.Coordinator) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	guards := guard.NewAccountGuards()

	mintSvc := mint.NewService(mint.Config{
		MinMint:         big.NewInt(1_000_000),
		MaxMint:         big.NewInt(1_000_000_000_000),
		Fee:             big.NewInt(100_000),
		RateLimitWindow: time.Second,
	}, nil, nil, nil, guards, coord, log)

	burnSvc := burn.NewService(burn.Config{
		Fee:             big.NewInt(100_000),
		MinBurn:         big.NewInt(11_000),
		DustThreshold:   big.NewInt(1_000),
		RateLimitWindow: time.Second,
	}, nil, guards, coord, log)

	rebalanceSvc := rebalance.NewService(rebalance.Config{
		HistorySize: 10,
		Interval:    time.Hour,
	}, nil, nil, nil, nil, coord, nil, log)

	return NewServer(Config{Addr: ":0", AdminToken: "secret"},
		mintSvc, burnSvc, rebalanceSvc, coord, log)
}

func doRequest(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	coord := guard.NewCoordinator(0)
	s := newTestServer(t, coord)

	w := doRequest(s, http.MethodGet, "/v1/healthz", "", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"paused":false`)

	coord.Pause()
	w = doRequest(s, http.MethodGet, "/v1/healthz", "", "")
	assert.Contains(t, w.Body.String(), `"paused":true`)
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t, guard.NewCoordinator(0))

	w := doRequest(s, http.MethodPost, "/v1/admin/pause", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(s, http.MethodPost, "/v1/admin/pause", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(s, http.MethodPost, "/v1/admin/pause", "secret", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodPost, "/v1/admin/unpause", "secret", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInitiateMint_RequestValidation(t *testing.T) {
	s := newTestServer(t, guard.NewCoordinator(0))

	w := doRequest(s, http.MethodPost, "/v1/mints", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, http.MethodPost, "/v1/mints", "", `{"account":"alice","amount":"1.5e6"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, http.MethodPost, "/v1/mints", "", `{"account":"alice","amount":"-5"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Domain validation failures map to 400 as well.
	w = doRequest(s, http.MethodPost, "/v1/mints", "", `{"account":"anonymous","amount":"2000000"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "anonymous")
}

func TestBurn_ConcurrencyConflictMapsTo409(t *testing.T) {
	coord := guard.NewCoordinator(0)
	s := newTestServer(t, coord)

	require.NoError(t, coord.TryStart(guard.OpRebalance))
	defer coord.End(guard.OpRebalance)

	w := doRequest(s, http.MethodPost, "/v1/burns", "", `{"account":"alice","amount":"50000"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRebalanceHistory_EmptyAtStart(t *testing.T) {
	s := newTestServer(t, guard.NewCoordinator(0))

	w := doRequest(s, http.MethodGet, "/v1/rebalance/history", "", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"history":[]`)
}

func TestRebalancePositions_PausedMapsTo400(t *testing.T) {
	coord := guard.NewCoordinator(0)
	s := newTestServer(t, coord)
	coord.Pause()

	w := doRequest(s, http.MethodGet, "/v1/rebalance/positions", "", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "paused")
}

func TestTriggerRebalance_RequiresToken(t *testing.T) {
	s := newTestServer(t, guard.NewCoordinator(0))

	w := doRequest(s, http.MethodPost, "/v1/rebalance", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
