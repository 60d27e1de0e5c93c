// Package api exposes the dashboard views and write flows over HTTP.
package api

import (
	"context"
	"net/http"

	"lotterydash/internal/orchestrator"
	"lotterydash/internal/tracker"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dashboard is the surface the HTTP handlers drive. *tracker.Tracker
// implements it.
type Dashboard interface {
	Pool() tracker.PoolView
	Account() tracker.AccountView
	Round() tracker.RoundView
	Winners() tracker.Field[[]tracker.WinnerView]
	Transactions(flow string, limit int) ([]tracker.TransactionView, error)
	Transaction(id string) (tracker.TransactionDetail, error)

	Quote(tickets uint64) (tracker.QuoteView, error)
	Approve(ctx context.Context, tickets uint64) error
	Stake(ctx context.Context) error
	ResetPurchase()
	RecheckPurchase() error
	PurchaseState() orchestrator.PurchaseState

	RequestWithdraw() error
	ConfirmWithdraw(ctx context.Context, accepted bool) error
	ResetWithdraw()
	RecheckWithdraw() error
	WithdrawState() orchestrator.WithdrawState

	LinkPrice(ctx context.Context) (float64, error)
	PriceAsset() string
	SubscribeCountdown() (<-chan uint64, func())
}

var _ Dashboard = (*tracker.Tracker)(nil)

type Server struct {
	dashboard Dashboard
	upgrader  websocket.Upgrader
}

func NewServer(dashboard Dashboard) *Server {
	return &Server{
		dashboard: dashboard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router registers every route on a fresh mux router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(instrument)

	router.HandleFunc("/get-link-price", s.handleLinkPrice).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pool", s.handlePool).Methods(http.MethodGet)
	api.HandleFunc("/account", s.handleAccount).Methods(http.MethodGet)
	api.HandleFunc("/round", s.handleRound).Methods(http.MethodGet)
	api.HandleFunc("/winners", s.handleWinners).Methods(http.MethodGet)
	api.HandleFunc("/transactions", s.handleTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", s.handleTransaction).Methods(http.MethodGet)

	api.HandleFunc("/purchase", s.handlePurchaseState).Methods(http.MethodGet)
	api.HandleFunc("/purchase/quote", s.handleQuote).Methods(http.MethodGet)
	api.HandleFunc("/purchase/approve", s.handleApprove).Methods(http.MethodPost)
	api.HandleFunc("/purchase/stake", s.handleStake).Methods(http.MethodPost)
	api.HandleFunc("/purchase/reset", s.handlePurchaseReset).Methods(http.MethodPost)
	api.HandleFunc("/purchase/recheck", s.handlePurchaseRecheck).Methods(http.MethodPost)

	api.HandleFunc("/withdraw", s.handleWithdrawState).Methods(http.MethodGet)
	api.HandleFunc("/withdraw/request", s.handleWithdrawRequest).Methods(http.MethodPost)
	api.HandleFunc("/withdraw/confirm", s.handleWithdrawConfirm).Methods(http.MethodPost)
	api.HandleFunc("/withdraw/reset", s.handleWithdrawReset).Methods(http.MethodPost)
	api.HandleFunc("/withdraw/recheck", s.handleWithdrawRecheck).Methods(http.MethodPost)

	router.HandleFunc("/ws/countdown", s.handleCountdown).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}
