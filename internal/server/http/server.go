// Package http exposes the vault over a JSON HTTP API.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/custodix/omnivault/errs"
	"github.com/custodix/omnivault/internal/asset"
	"github.com/custodix/omnivault/internal/ledger"
	"github.com/custodix/omnivault/internal/observability"
	"github.com/custodix/omnivault/internal/vault"
)

// IdentityHeader carries the caller identity for administrative endpoints.
const IdentityHeader = "X-Omnivault-Identity"

// Server routes HTTP requests to the vault.
type Server struct {
	vault *vault.Vault
	mux   *http.ServeMux
}

// NewServer builds the HTTP handler around v.
func NewServer(v *vault.Vault) *Server {
	s := &Server{vault: v, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /v1/deposits", s.handleDeposit)
	s.mux.HandleFunc("POST /v1/deposits/native", s.handleDepositNative)
	s.mux.HandleFunc("POST /v1/withdrawals", s.handleWithdraw)
	s.mux.HandleFunc("GET /v1/accounts/{account}/balance", s.handleBalance)
	s.mux.HandleFunc("GET /v1/accounts/{account}/history", s.handleHistory)
	s.mux.HandleFunc("GET /v1/assets", s.handleListAssets)
	s.mux.HandleFunc("GET /v1/assets/{symbol}", s.handleDescribeAsset)
	s.mux.HandleFunc("POST /v1/admin/assets", s.handleRegisterAsset)
	s.mux.HandleFunc("DELETE /v1/admin/assets/{symbol}", s.handleDeregisterAsset)
	s.mux.HandleFunc("GET /v1/estimate", s.handleEstimate)
	s.mux.HandleFunc("GET /v1/stats", s.handleStats)
	s.mux.HandleFunc("/", s.handleNotFound)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type depositRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type withdrawRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type registerAssetRequest struct {
	Symbol             string `json:"symbol"`
	RequiresConversion bool   `json:"requiresConversion"`
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type assetView struct {
	Symbol             string `json:"symbol"`
	Supported          bool   `json:"supported"`
	RequiresConversion bool   `json:"requiresConversion"`
	RegisteredAt       string `json:"registeredAt"`
	TotalDeposited     string `json:"totalDeposited"`
	DepositCount       uint64 `json:"depositCount"`
	TotalConverted     string `json:"totalConverted"`
}

type estimateResponse struct {
	Route         []string `json:"route,omitempty"`
	Expected      string   `json:"expected"`
	MinAcceptable string   `json:"minAcceptable"`
}

type statsResponse struct {
	SettlementAsset     string `json:"settlementAsset"`
	Aggregate           string `json:"aggregate"`
	RemainingCapacity   string `json:"remainingCapacity"`
	SupportedAssetCount int    `json:"supportedAssetCount"`
	DepositCount        uint64 `json:"depositCount"`
	WithdrawalCount     uint64 `json:"withdrawalCount"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Reason  string            `json:"reason"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	balance, err := s.vault.Deposit(r.Context(), ledger.Account(req.Account), asset.Normalize(req.Asset), amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, balanceResponse{Account: req.Account, Balance: balance.String()})
}

func (s *Server) handleDepositNative(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	balance, err := s.vault.DepositNative(r.Context(), ledger.Account(req.Account), amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, balanceResponse{Account: req.Account, Balance: balance.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	remaining, err := s.vault.Withdraw(r.Context(), ledger.Account(req.Account), amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balanceResponse{Account: req.Account, Balance: remaining.String()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	balance := s.vault.BalanceOf(ledger.Account(account))
	s.writeJSON(w, http.StatusOK, balanceResponse{Account: account, Balance: balance.String()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, errs.New("api/history", errs.CodeValidation, errs.ReasonUnknown,
				errs.WithMessage("limit must be a positive integer")))
			return
		}
		limit = n
	}
	entries, err := s.vault.History(r.Context(), ledger.Account(account), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type entryView struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		AssetIn    string `json:"assetIn,omitempty"`
		AmountIn   string `json:"amountIn,omitempty"`
		Settlement string `json:"settlement"`
		Balance    string `json:"balance"`
		RecordedAt string `json:"recordedAt"`
	}
	views := make([]entryView, 0, len(entries))
	for _, entry := range entries {
		view := entryView{
			ID:         entry.ID,
			Type:       string(entry.Type),
			Settlement: entry.Settlement.String(),
			Balance:    entry.Balance.String(),
			RecordedAt: entry.RecordedAt.Format(time.RFC3339),
		}
		if entry.AssetIn != "" {
			view.AssetIn = entry.AssetIn
			view.AmountIn = entry.AmountIn.String()
		}
		views = append(views, view)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"account": account, "entries": views})
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	symbols := s.vault.SupportedAssets()
	views := make([]assetView, 0, len(symbols))
	for _, sym := range symbols {
		views = append(views, s.assetView(sym))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"assets": views})
}

func (s *Server) handleDescribeAsset(w http.ResponseWriter, r *http.Request) {
	sym := asset.Normalize(r.PathValue("symbol"))
	if _, ok := s.vault.AssetInfo(sym); !ok {
		s.writeError(w, errs.New("api/assets", errs.CodeState, errs.ReasonAssetNotSupported,
			errs.WithField("asset", sym.String())))
		return
	}
	s.writeJSON(w, http.StatusOK, s.assetView(sym))
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req registerAssetRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller := r.Header.Get(IdentityHeader)
	if err := s.vault.RegisterAsset(r.Context(), caller, asset.Normalize(req.Symbol), req.RequiresConversion); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.assetView(asset.Normalize(req.Symbol)))
}

func (s *Server) handleDeregisterAsset(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(IdentityHeader)
	sym := asset.Normalize(r.PathValue("symbol"))
	if err := s.vault.DeregisterAsset(r.Context(), caller, sym); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	sym := asset.Normalize(r.URL.Query().Get("asset"))
	amount, ok := s.parseAmount(w, r.URL.Query().Get("amount"))
	if !ok {
		return
	}
	est, err := s.vault.EstimateDepositOutput(r.Context(), sym, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := estimateResponse{
		Expected:      est.Expected.String(),
		MinAcceptable: est.MinAcceptable.String(),
	}
	for _, hop := range est.Route {
		resp.Route = append(resp.Route, hop.String())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.vault.LedgerStats()
	s.writeJSON(w, http.StatusOK, statsResponse{
		SettlementAsset:     s.vault.SettlementAsset().String(),
		Aggregate:           stats.Aggregate.String(),
		RemainingCapacity:   stats.RemainingCapacity.String(),
		SupportedAssetCount: stats.SupportedAssetCount,
		DepositCount:        stats.DepositCount,
		WithdrawalCount:     stats.WithdrawalCount,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusNotFound, errorResponse{Error: errorBody{
		Code:    "not_found",
		Reason:  "unknown_endpoint",
		Message: "no such endpoint: " + r.Method + " " + r.URL.Path,
	}})
}

func (s *Server) assetView(sym asset.Symbol) assetView {
	desc, _ := s.vault.AssetInfo(sym)
	stats, _ := s.vault.AssetStats(sym)
	return assetView{
		Symbol:             sym.String(),
		Supported:          desc.Supported,
		RequiresConversion: desc.RequiresConversion,
		RegisteredAt:       desc.RegisteredAt.Format(time.RFC3339),
		TotalDeposited:     stats.TotalDeposited.String(),
		DepositCount:       stats.DepositCount,
		TotalConverted:     stats.TotalConverted.String(),
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, errs.New("api/decode", errs.CodeValidation, errs.ReasonUnknown,
			errs.WithMessage("malformed request body"),
			errs.WithCause(err)))
		return false
	}
	return true
}

func (s *Server) parseAmount(w http.ResponseWriter, raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		s.writeError(w, errs.New("api/amount", errs.CodeValidation, errs.ReasonZeroAmount,
			errs.WithMessage("amount must be a decimal string"),
			errs.WithField("amount", raw)))
		return decimal.Zero, false
	}
	return amount, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var e *errs.E
	status := http.StatusInternalServerError
	body := errorBody{Code: "internal", Reason: string(errs.ReasonUnknown), Message: err.Error()}
	if errors.As(err, &e) {
		status = statusFor(e.Code)
		body = errorBody{
			Code:    string(e.Code),
			Reason:  string(e.Reason),
			Message: e.Message,
			Fields:  e.Fields,
		}
	}
	s.writeJSON(w, status, errorResponse{Error: body})
}

func statusFor(code errs.Code) int {
	switch code {
	case errs.CodeValidation:
		return http.StatusBadRequest
	case errs.CodeAuthorization:
		return http.StatusForbidden
	case errs.CodeState:
		return http.StatusConflict
	case errs.CodeResourceLimit:
		return http.StatusUnprocessableEntity
	case errs.CodeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		observability.Log().Error("encode response failed",
			observability.F("error", err.Error()))
	}
}

// Run serves the API on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
