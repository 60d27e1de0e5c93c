package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lotterydash/internal/blockchain"
	"lotterydash/internal/orchestrator"
	"lotterydash/internal/pricefeed"
	"lotterydash/internal/storage"
	"lotterydash/internal/tracker"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type dashboardMock struct {
	mock.Mock
	countdown chan uint64
	released  chan struct{}
}

var _ Dashboard = (*dashboardMock)(nil)

func (m *dashboardMock) Pool() tracker.PoolView {
	return m.MethodCalled("Pool").Get(0).(tracker.PoolView)
}

func (m *dashboardMock) Account() tracker.AccountView {
	return m.MethodCalled("Account").Get(0).(tracker.AccountView)
}

func (m *dashboardMock) Round() tracker.RoundView {
	return m.MethodCalled("Round").Get(0).(tracker.RoundView)
}

func (m *dashboardMock) Winners() tracker.Field[[]tracker.WinnerView] {
	return m.MethodCalled("Winners").Get(0).(tracker.Field[[]tracker.WinnerView])
}

func (m *dashboardMock) Transactions(flow string, limit int) ([]tracker.TransactionView, error) {
	args := m.MethodCalled("Transactions", flow, limit)
	transactions, _ := args.Get(0).([]tracker.TransactionView)
	return transactions, args.Error(1)
}

func (m *dashboardMock) Transaction(id string) (tracker.TransactionDetail, error) {
	args := m.MethodCalled("Transaction", id)
	return args.Get(0).(tracker.TransactionDetail), args.Error(1)
}

func (m *dashboardMock) Quote(tickets uint64) (tracker.QuoteView, error) {
	args := m.MethodCalled("Quote", tickets)
	return args.Get(0).(tracker.QuoteView), args.Error(1)
}

func (m *dashboardMock) Approve(ctx context.Context, tickets uint64) error {
	return m.MethodCalled("Approve", ctx, tickets).Error(0)
}

func (m *dashboardMock) Stake(ctx context.Context) error {
	return m.MethodCalled("Stake", ctx).Error(0)
}

func (m *dashboardMock) ResetPurchase() {
	m.MethodCalled("ResetPurchase")
}

func (m *dashboardMock) RecheckPurchase() error {
	return m.MethodCalled("RecheckPurchase").Error(0)
}

func (m *dashboardMock) PurchaseState() orchestrator.PurchaseState {
	return orchestrator.PurchaseState{}
}

func (m *dashboardMock) RequestWithdraw() error {
	return m.MethodCalled("RequestWithdraw").Error(0)
}

func (m *dashboardMock) ConfirmWithdraw(ctx context.Context, accepted bool) error {
	return m.MethodCalled("ConfirmWithdraw", ctx, accepted).Error(0)
}

func (m *dashboardMock) ResetWithdraw() {
	m.MethodCalled("ResetWithdraw")
}

func (m *dashboardMock) RecheckWithdraw() error {
	return m.MethodCalled("RecheckWithdraw").Error(0)
}

func (m *dashboardMock) WithdrawState() orchestrator.WithdrawState {
	return orchestrator.WithdrawState{}
}

func (m *dashboardMock) LinkPrice(ctx context.Context) (float64, error) {
	args := m.MethodCalled("LinkPrice", ctx)
	return args.Get(0).(float64), args.Error(1)
}

func (m *dashboardMock) PriceAsset() string {
	return "chainlink"
}

func (m *dashboardMock) SubscribeCountdown() (<-chan uint64, func()) {
	return m.countdown, func() { close(m.released) }
}

func newServer(t *testing.T) (*dashboardMock, *httptest.Server) {
	t.Helper()
	dashboard := &dashboardMock{
		countdown: make(chan uint64, 1),
		released:  make(chan struct{}),
	}
	server := httptest.NewServer(NewServer(dashboard).Router())
	t.Cleanup(server.Close)
	return dashboard, server
}

func do(t *testing.T, server *httptest.Server, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, server.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestLinkPrice(t *testing.T) {
	t.Run("cached price", func(t *testing.T) {
		dashboard, server := newServer(t)
		dashboard.On("LinkPrice", mock.Anything).Return(14.25, nil)

		resp, body := do(t, server, http.MethodPost, "/get-link-price", "{}")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, map[string]interface{}{"chainlink": map[string]interface{}{"usd": 14.25}}, body)
	})

	t.Run("never fetched", func(t *testing.T) {
		dashboard, server := newServer(t)
		dashboard.On("LinkPrice", mock.Anything).Return(0.0, pricefeed.ErrNoPrice)

		resp, body := do(t, server, http.MethodPost, "/get-link-price", "{}")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "Failed to fetch LINK price", body["error"])
	})
}

func TestViews(t *testing.T) {
	dashboard, server := newServer(t)
	dashboard.On("Pool").Return(tracker.PoolView{
		TotalStaked:    tracker.Field[string]{Value: "100.00", Status: tracker.StatusReady},
		TotalStakedUSD: tracker.Field[string]{Status: tracker.StatusUnavailable},
	})

	resp, body := do(t, server, http.MethodGet, "/api/pool", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{"value": "100.00", "status": "ready"}, body["totalStaked"])
	assert.Equal(t, "unavailable", body["totalStakedUsd"].(map[string]interface{})["status"])

	resp, _ = do(t, server, http.MethodPost, "/api/pool", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTransactions(t *testing.T) {
	dashboard, server := newServer(t)
	dashboard.On("Transactions", "", tracker.TransactionHistoryLimit).Return([]tracker.TransactionView{}, nil)
	dashboard.On("Transactions", "", 5).Return(nil, errors.New("journal closed"))
	dashboard.On("Transactions", "withdraw", tracker.TransactionHistoryLimit).Return([]tracker.TransactionView{}, nil)
	dashboard.On("Transactions", "lend", tracker.TransactionHistoryLimit).Return(nil, tracker.ErrUnknownFlow)

	resp, _ := do(t, server, http.MethodGet, "/api/transactions", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, server, http.MethodGet, "/api/transactions?limit=5", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, body := do(t, server, http.MethodGet, "/api/transactions?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_limit", body["error"])

	resp, _ = do(t, server, http.MethodGet, "/api/transactions?flow=withdraw", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, server, http.MethodGet, "/api/transactions?flow=lend", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_flow", body["error"])

	dashboard.AssertExpectations(t)
}

func TestTransactionDetail(t *testing.T) {
	dashboard, server := newServer(t)
	dashboard.On("Transaction", "op-1").Return(tracker.TransactionDetail{
		TransactionView: tracker.TransactionView{ID: "op-1", Operation: "stake", Phase: "Confirmed"},
		Transitions:     []tracker.TransitionView{{From: "Idle", To: "Submitting"}},
	}, nil)
	dashboard.On("Transaction", "missing").Return(tracker.TransactionDetail{}, storage.ErrOperationNotFound)

	resp, body := do(t, server, http.MethodGet, "/api/transactions/op-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stake", body["operation"])
	transitions := body["transitions"].([]interface{})
	require.Len(t, transitions, 1)
	assert.Equal(t, "Submitting", transitions[0].(map[string]interface{})["to"])

	resp, body = do(t, server, http.MethodGet, "/api/transactions/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])
}

func TestPurchaseRoutes(t *testing.T) {
	dashboard, server := newServer(t)
	dashboard.On("Quote", uint64(2)).Return(tracker.QuoteView{Tickets: 2, Total: "10.0000"}, nil)
	dashboard.On("Approve", mock.Anything, uint64(2)).Return(nil)
	dashboard.On("Stake", mock.Anything).Return(orchestrator.ErrApprovalPending)
	dashboard.On("ResetPurchase").Return()
	dashboard.On("RecheckPurchase").Return(orchestrator.ErrNothingToRecheck)

	resp, body := do(t, server, http.MethodGet, "/api/purchase/quote?tickets=2", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "10.0000", body["total"])

	resp, body = do(t, server, http.MethodGet, "/api/purchase/quote?tickets=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_tickets", body["error"])

	resp, _ = do(t, server, http.MethodPost, "/api/purchase/approve", `{"tickets":2}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = do(t, server, http.MethodPost, "/api/purchase/approve", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, server, http.MethodPost, "/api/purchase/stake", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "approval_pending", body["error"])

	resp, _ = do(t, server, http.MethodPost, "/api/purchase/reset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, server, http.MethodPost, "/api/purchase/recheck", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "nothing_to_recheck", body["error"])

	dashboard.AssertExpectations(t)
}

func TestFlowErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{orchestrator.ErrCostUnavailable, http.StatusServiceUnavailable, "cost_unavailable"},
		{orchestrator.ErrInvalidTickets, http.StatusBadRequest, "invalid_tickets"},
		{orchestrator.ErrAlreadyStarted, http.StatusConflict, "already_started"},
		{blockchain.ErrUserRejected, http.StatusUnprocessableEntity, "rejected"},
		{errors.New("nonce too low"), http.StatusBadGateway, "submission_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			writeFlowError(recorder, tt.err)

			assert.Equal(t, tt.status, recorder.Code)
			var body errorResponse
			require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, tt.err.Error(), body.Message)
		})
	}
}

func TestWithdrawRoutes(t *testing.T) {
	t.Run("no wallet", func(t *testing.T) {
		dashboard, server := newServer(t)
		dashboard.On("RequestWithdraw").Return(orchestrator.ErrNotConnected)

		resp, body := do(t, server, http.MethodPost, "/api/withdraw/request", "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "connect_wallet", body["error"])
	})

	t.Run("confirm", func(t *testing.T) {
		dashboard, server := newServer(t)
		dashboard.On("RequestWithdraw").Return(nil)
		dashboard.On("ConfirmWithdraw", mock.Anything, true).Return(nil)
		dashboard.On("ConfirmWithdraw", mock.Anything, false).Return(nil)

		resp, _ := do(t, server, http.MethodPost, "/api/withdraw/request", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = do(t, server, http.MethodPost, "/api/withdraw/confirm", `{"confirm":true}`)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		resp, _ = do(t, server, http.MethodPost, "/api/withdraw/confirm", `{"confirm":false}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := do(t, server, http.MethodPost, "/api/withdraw/confirm", `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_body", body["error"])

		dashboard.AssertExpectations(t)
	})

	t.Run("without request", func(t *testing.T) {
		dashboard, server := newServer(t)
		dashboard.On("ConfirmWithdraw", mock.Anything, true).Return(orchestrator.ErrConfirmationRequired)

		resp, body := do(t, server, http.MethodPost, "/api/withdraw/confirm", `{"confirm":true}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "confirmation_required", body["error"])
	})
}

func TestCountdownStream(t *testing.T) {
	dashboard, server := newServer(t)
	dashboard.countdown <- 90061

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/countdown"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var message countdownMessage
	require.NoError(t, conn.ReadJSON(&message))
	assert.Equal(t, uint64(90061), message.Seconds)
	assert.Equal(t, "1d 01h 01m 01s", message.Display)

	dashboard.countdown <- 90060
	require.NoError(t, conn.ReadJSON(&message))
	assert.Equal(t, uint64(90060), message.Seconds)

	require.NoError(t, conn.Close())
	select {
	case <-dashboard.released:
	case <-time.After(time.Second):
		t.Fatal("subscription was not released after disconnect")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, server := newServer(t)

	resp, err := server.Client().Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
