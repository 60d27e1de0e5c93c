package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"lotterydash/internal/logger"
	"lotterydash/internal/storage"
	"lotterydash/internal/tracker"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// handleLinkPrice serves the cached asset price as {"<asset>": {"usd": n}}.
func (s *Server) handleLinkPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.dashboard.LinkPrice(r.Context())
	if err != nil {
		logger.Warn("api: link price unavailable", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch LINK price"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]map[string]float64{
		s.dashboard.PriceAsset(): {"usd": price},
	})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.Pool())
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.Account())
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.Round())
}

func (s *Server) handleWinners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.Winners())
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit := tracker.TransactionHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", nil)
			return
		}
		limit = parsed
	}

	transactions, err := s.dashboard.Transactions(r.URL.Query().Get("flow"), limit)
	if errors.Is(err, tracker.ErrUnknownFlow) {
		writeError(w, http.StatusBadRequest, "invalid_flow", err)
		return
	}
	if err != nil {
		logger.Error("api: cannot read journal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	detail, err := s.dashboard.Transaction(mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrOperationNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	if err != nil {
		logger.Error("api: cannot read journal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handlePurchaseState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.PurchaseState())
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	tickets, err := strconv.ParseUint(r.URL.Query().Get("tickets"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tickets", nil)
		return
	}

	quote, err := s.dashboard.Quote(tickets)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type approveRequest struct {
	Tickets uint64 `json:"tickets"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}

	if err := s.dashboard.Approve(r.Context(), req.Tickets); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.dashboard.PurchaseState())
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	if err := s.dashboard.Stake(r.Context()); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.dashboard.PurchaseState())
}

func (s *Server) handlePurchaseReset(w http.ResponseWriter, r *http.Request) {
	s.dashboard.ResetPurchase()
	writeJSON(w, http.StatusOK, s.dashboard.PurchaseState())
}

func (s *Server) handlePurchaseRecheck(w http.ResponseWriter, r *http.Request) {
	if err := s.dashboard.RecheckPurchase(); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.dashboard.PurchaseState())
}

func (s *Server) handleWithdrawState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.WithdrawState())
}

func (s *Server) handleWithdrawRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.dashboard.RequestWithdraw(); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.dashboard.WithdrawState())
}

type confirmRequest struct {
	Confirm *bool `json:"confirm"`
}

func (s *Server) handleWithdrawConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if req.Confirm == nil {
		writeError(w, http.StatusBadRequest, "invalid_body", errors.New("confirm is required"))
		return
	}

	if err := s.dashboard.ConfirmWithdraw(r.Context(), *req.Confirm); err != nil {
		writeFlowError(w, err)
		return
	}

	status := http.StatusOK
	if *req.Confirm {
		status = http.StatusAccepted
	}
	writeJSON(w, status, s.dashboard.WithdrawState())
}

func (s *Server) handleWithdrawReset(w http.ResponseWriter, r *http.Request) {
	s.dashboard.ResetWithdraw()
	writeJSON(w, http.StatusOK, s.dashboard.WithdrawState())
}

func (s *Server) handleWithdrawRecheck(w http.ResponseWriter, r *http.Request) {
	if err := s.dashboard.RecheckWithdraw(); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.dashboard.WithdrawState())
}
