// HTTP handlers for the ledger engine. The web layer stays thin: decode and
// validate the request shape, invoke one engine operation, translate the
// error kind into an HTTP status.
package ledger

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fondiart/ledger-engine/internal/model"
)

// Service exposes the engine's operations over HTTP.
type Service struct {
	engine *Engine
}

// NewService creates the HTTP surface for an engine.
func NewService(engine *Engine) *Service {
	return &Service{engine: engine}
}

// Routes mounts all ledger endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/accounts", s.CreateAccount)
	r.Get("/accounts/{userID}", s.GetAccount)
	r.Put("/accounts/{userID}/payout-destination", s.SetPayoutDestination)
	r.Post("/accounts/{userID}/deposit", s.Deposit)
	r.Post("/accounts/{userID}/withdraw", s.Withdraw)
	r.Post("/accounts/{userID}/transfer-to-admin", s.TransferToAdmin)

	r.Post("/instruments", s.TokenizeArtwork)
	r.Get("/instruments", s.ListInstruments)
	r.Get("/instruments/{instrumentID}", s.GetInstrument)
	r.Post("/instruments/{instrumentID}/buy", s.BuyPrimary)
	r.Post("/instruments/{instrumentID}/liquidate", s.Liquidate)

	r.Post("/orders", s.OpenSellOrder)
	r.Get("/orders", s.ListOpenOrders)
	r.Post("/orders/{orderID}/cancel", s.CancelSellOrder)
	r.Post("/orders/{orderID}/buy", s.BuyFromOrder)

	r.Post("/donations", s.Donate)

	r.Post("/projects", s.CreateProject)
	r.Get("/projects/{projectID}", s.GetProject)
	r.Post("/projects/{projectID}/fund", s.FundProject)
	r.Post("/projects/{projectID}/disburse", s.Disburse)

	r.Get("/holdings/{userID}", s.ListHoldings)
	r.Get("/transactions/{userID}", s.ListTransactions)
}

// --- Request types ---

type CreateAccountRequest struct {
	UserID            string `json:"user_id"`
	PayoutDestination string `json:"payout_destination,omitempty"`
}

type PayoutDestinationRequest struct {
	Destination string `json:"destination"`
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type TokenizeRequest struct {
	ArtworkID  string          `json:"artwork_id"`
	ArtistID   string          `json:"artist_id"`
	TotalUnits int64           `json:"total_units"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type BuyRequest struct {
	UserID   string `json:"user_id"`
	Quantity int64  `json:"quantity"`
}

type OpenOrderRequest struct {
	UserID       string          `json:"user_id"`
	InstrumentID string          `json:"instrument_id"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

type CancelOrderRequest struct {
	UserID string `json:"user_id"`
}

type DonateRequest struct {
	DonorID  string          `json:"donor_id"`
	ArtistID string          `json:"artist_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type CreateProjectRequest struct {
	OwnerID     string          `json:"owner_id"`
	Title       string          `json:"title"`
	FundingGoal decimal.Decimal `json:"funding_goal"`
}

type FundRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

type LiquidateRequest struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// --- Handlers ---

func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.engine.CreateAccount(r.Context(), req.UserID, req.PayoutDestination)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.engine.Account(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Service) SetPayoutDestination(w http.ResponseWriter, r *http.Request) {
	var req PayoutDestinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.engine.SetPayoutDestination(r.Context(), chi.URLParam(r, "userID"), req.Destination)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.engine.Deposit(r.Context(), chi.URLParam(r, "userID"), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.engine.WithdrawToExternal(r.Context(), chi.URLParam(r, "userID"), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Service) TransferToAdmin(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.TransferToAdmin(r.Context(), chi.URLParam(r, "userID"), req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Service) TokenizeArtwork(w http.ResponseWriter, r *http.Request) {
	var req TokenizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ArtworkID == "" || req.ArtistID == "" {
		writeError(w, "artwork_id and artist_id are required", http.StatusBadRequest)
		return
	}

	ins, err := s.engine.TokenizeArtwork(r.Context(), req.ArtworkID, req.ArtistID, req.TotalUnits, req.UnitPrice)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ins)
}

func (s *Service) ListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.engine.Instruments(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if instruments == nil {
		instruments = []model.Instrument{}
	}
	writeJSON(w, http.StatusOK, instruments)
}

func (s *Service) GetInstrument(w http.ResponseWriter, r *http.Request) {
	ins, err := s.engine.Instrument(r.Context(), chi.URLParam(r, "instrumentID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

func (s *Service) BuyPrimary(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	holding, err := s.engine.BuyPrimary(r.Context(), req.UserID, chi.URLParam(r, "instrumentID"), req.Quantity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, holding)
}

func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.engine.LiquidateInstrument(r.Context(), chi.URLParam(r, "instrumentID"), req.TotalAmount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) OpenSellOrder(w http.ResponseWriter, r *http.Request) {
	var req OpenOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.InstrumentID == "" {
		writeError(w, "user_id and instrument_id are required", http.StatusBadRequest)
		return
	}

	order, err := s.engine.OpenSellOrder(r.Context(), req.UserID, req.InstrumentID, req.Quantity, req.UnitPrice)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Service) ListOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.engine.OpenSellOrders(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if orders == nil {
		orders = []model.SellOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Service) CancelSellOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.engine.CancelSellOrder(r.Context(), req.UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Service) BuyFromOrder(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	holding, err := s.engine.BuyFromSellOrder(r.Context(), req.UserID, chi.URLParam(r, "orderID"), req.Quantity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

func (s *Service) Donate(w http.ResponseWriter, r *http.Request) {
	var req DonateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.Donate(r.Context(), req.DonorID, req.ArtistID, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "donated"})
}

func (s *Service) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	project, err := s.engine.CreateProject(r.Context(), req.OwnerID, req.Title, req.FundingGoal)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Service) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.engine.Project(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Service) FundProject(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	project, err := s.engine.FundProject(r.Context(), req.UserID, chi.URLParam(r, "projectID"), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Service) Disburse(w http.ResponseWriter, r *http.Request) {
	project, err := s.engine.Disburse(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Service) ListHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.engine.Holdings(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := s.engine.Transactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if transactions == nil {
		transactions = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, transactions)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError translates a business error kind into an HTTP status.
func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), errStatus(err))
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrInstrumentNotFound),
		errors.Is(err, ErrProjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientHoldings),
		errors.Is(err, ErrInsufficientUnits),
		errors.Is(err, ErrOrderNotOpen),
		errors.Is(err, ErrSelfTrade),
		errors.Is(err, ErrSelfDonation),
		errors.Is(err, ErrAlreadyDisbursed),
		errors.Is(err, ErrNoPayoutDestination):
		return http.StatusConflict
	case errors.Is(err, ErrStorageTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
