package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/internal/settlement"
)

// ─── Request / response shapes ───────────────────────────────────────────────

// Amounts cross the wire as decimal strings: order values routinely exceed
// what JSON numbers can represent losslessly.

type createOrderRequest struct {
	Asset            string `json:"asset"`
	Amount           string `json:"amount"`
	RefundAddress    string `json:"refund_address"`
	Integrator       string `json:"integrator"`
	IntegratorFeeBps uint64 `json:"integrator_fee_bps"`
	MessageHash      string `json:"message_hash"`
}

type orderResponse struct {
	ID                 string     `json:"id"`
	User               string     `json:"user"`
	Asset              string     `json:"asset"`
	Amount             string     `json:"amount"`
	Tier               uint8      `json:"tier"`
	Status             string     `json:"status"`
	RefundAddress      string     `json:"refund_address"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	AcceptedProposalID *string    `json:"accepted_proposal_id,omitempty"`
	FulfilledBy        *string    `json:"fulfilled_by,omitempty"`
	Integrator         string     `json:"integrator"`
	IntegratorFeeBps   uint64     `json:"integrator_fee_bps"`
	MessageHash        string     `json:"message_hash"`
}

func toOrderResponse(o *settlement.Order) orderResponse {
	resp := orderResponse{
		ID:               o.ID.Hex(),
		User:             o.User.Hex(),
		Asset:            o.Asset.Hex(),
		Amount:           o.Amount.String(),
		Tier:             uint8(o.Tier),
		Status:           string(o.Status),
		RefundAddress:    o.RefundAddress.Hex(),
		CreatedAt:        o.CreatedAt,
		ExpiresAt:        o.ExpiresAt,
		Integrator:       o.Integrator.Hex(),
		IntegratorFeeBps: o.IntegratorFeeBps,
		MessageHash:      o.MessageHash.Hex(),
	}
	if o.AcceptedProposalID != nil {
		s := o.AcceptedProposalID.Hex()
		resp.AcceptedProposalID = &s
	}
	if o.FulfilledBy != nil {
		s := o.FulfilledBy.Hex()
		resp.FulfilledBy = &s
	}
	return resp
}

type createProposalRequest struct {
	OrderID  string `json:"order_id"`
	Provider string `json:"provider"`
	FeeBps   uint64 `json:"fee_bps"`
}

type proposalResponse struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Provider   string    `json:"provider"`
	Amount     string    `json:"amount"`
	FeeBps     uint64    `json:"fee_bps"`
	ProposedAt time.Time `json:"proposed_at"`
	Deadline   time.Time `json:"deadline"`
	Status     string    `json:"status"`
	Executed   bool      `json:"executed"`
}

func toProposalResponse(p *settlement.SettlementProposal) proposalResponse {
	return proposalResponse{
		ID:         p.ID.Hex(),
		OrderID:    p.OrderID.Hex(),
		Provider:   p.Provider.Hex(),
		Amount:     p.Amount.String(),
		FeeBps:     p.FeeBps,
		ProposedAt: p.ProposedAt,
		Deadline:   p.Deadline,
		Status:     string(p.Status),
		Executed:   p.Executed,
	}
}

type registerIntentRequest struct {
	Currency             string `json:"currency"`
	Amount               string `json:"amount"`
	MinFeeBps            uint64 `json:"min_fee_bps"`
	MaxFeeBps            uint64 `json:"max_fee_bps"`
	CommitmentWindowSecs int64  `json:"commitment_window_secs"`
}

type intentResponse struct {
	Provider             string    `json:"provider"`
	Currency             string    `json:"currency"`
	AvailableAmount      string    `json:"available_amount"`
	MinFeeBps            uint64    `json:"min_fee_bps"`
	MaxFeeBps            uint64    `json:"max_fee_bps"`
	RegisteredAt         time.Time `json:"registered_at"`
	ExpiresAt            time.Time `json:"expires_at"`
	CommitmentWindowSecs int64     `json:"commitment_window_secs"`
	Active               bool      `json:"active"`
}

func toIntentResponse(i *settlement.ProviderIntent) intentResponse {
	return intentResponse{
		Provider:             i.Provider.Hex(),
		Currency:             i.Currency,
		AvailableAmount:      i.AvailableAmount.String(),
		MinFeeBps:            i.MinFeeBps,
		MaxFeeBps:            i.MaxFeeBps,
		RegisteredAt:         i.RegisteredAt,
		ExpiresAt:            i.ExpiresAt,
		CommitmentWindowSecs: int64(i.CommitmentWindow / time.Second),
		Active:               i.Active,
	}
}

type reputationResponse struct {
	Provider              string `json:"provider"`
	TotalOrders           uint64 `json:"total_orders"`
	SuccessfulOrders      uint64 `json:"successful_orders"`
	FailedOrders          uint64 `json:"failed_orders"`
	NoShowCount           uint64 `json:"no_show_count"`
	AverageSettlementSecs int64  `json:"average_settlement_secs"`
	Fraudulent            bool   `json:"fraudulent"`
	Blacklisted           bool   `json:"blacklisted"`
}

func toReputationResponse(r *settlement.ProviderReputation) reputationResponse {
	return reputationResponse{
		Provider:              r.Provider.Hex(),
		TotalOrders:           r.TotalOrders,
		SuccessfulOrders:      r.SuccessfulOrders,
		FailedOrders:          r.FailedOrders,
		NoShowCount:           r.NoShowCount,
		AverageSettlementSecs: int64(r.AverageSettlementTime() / time.Second),
		Fraudulent:            r.Fraudulent,
		Blacklisted:           r.Blacklisted,
	}
}

type integratorResponse struct {
	Integrator   string    `json:"integrator"`
	Registered   bool      `json:"registered"`
	FeeBps       uint64    `json:"fee_bps"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
	TotalOrders  uint64    `json:"total_orders"`
	TotalVolume  string    `json:"total_volume"`
}

func toIntegratorResponse(i *settlement.IntegratorInfo) integratorResponse {
	volume := "0"
	if i.TotalVolume != nil {
		volume = i.TotalVolume.String()
	}
	return integratorResponse{
		Integrator:   i.Integrator.Hex(),
		Registered:   i.Registered,
		FeeBps:       i.FeeBps,
		Name:         i.Name,
		RegisteredAt: i.RegisteredAt,
		TotalOrders:  i.TotalOrders,
		TotalVolume:  volume,
	}
}

// ─── Parsing helpers ─────────────────────────────────────────────────────────

func parseAddress(raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseHash(raw string) (common.Hash, bool) {
	raw = strings.TrimPrefix(raw, "0x")
	if len(raw) != 2*common.HashLength {
		return common.Hash{}, false
	}
	return common.HexToHash(raw), true
}

func parseAmount(raw string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(raw, 10)
	return v, ok
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// subPath splits "/v1/<collection>/<id>[/<action>]" into id and action.
func subPath(path, collection string) (id, action string) {
	rest := strings.TrimPrefix(path, "/v1/"+collection+"/")
	if idx := strings.IndexByte(rest, '/'); idx != -1 {
		return rest[:idx], strings.Trim(rest[idx+1:], "/")
	}
	return rest, ""
}

// ─── Orders ──────────────────────────────────────────────────────────────────

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req createOrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	asset, ok := parseAddress(req.Asset)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid asset address")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	refund, ok := parseAddress(req.RefundAddress)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid refund address")
		return
	}
	integrator, ok := parseAddress(req.Integrator)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid integrator address")
		return
	}
	messageHash, ok := parseHash(req.MessageHash)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid message hash")
		return
	}

	order, err := s.engine.CreateOrder(r.Context(), caller, settlement.OrderParams{
		Asset:            asset,
		Amount:           amount,
		RefundAddress:    refund,
		Integrator:       integrator,
		IntegratorFeeBps: req.IntegratorFeeBps,
		MessageHash:      messageHash,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (s *Server) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	rawID, action := subPath(r.URL.Path, "orders")
	id, ok := parseHash(rawID)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		order, err := s.engine.GetOrder(id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, toOrderResponse(order))

	case action == "proposals" && r.Method == http.MethodGet:
		proposals := s.engine.ProposalsForOrder(id)
		out := make([]proposalResponse, 0, len(proposals))
		for _, p := range proposals {
			out = append(out, toProposalResponse(p))
		}
		s.writeJSON(w, http.StatusOK, out)

	case action == "refund" && r.Method == http.MethodPost:
		caller, err := callerAddress(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if err := s.engine.RefundOrder(r.Context(), caller, id); err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "refunded"})

	case action == "cancel" && r.Method == http.MethodPost:
		caller, err := callerAddress(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if err := s.engine.RequestRefund(r.Context(), caller, id); err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})

	default:
		s.writeError(w, http.StatusNotFound, "unknown route")
	}
}

// ─── Proposals ───────────────────────────────────────────────────────────────

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req createProposalRequest
	if !s.decode(w, r, &req) {
		return
	}
	orderID, ok := parseHash(req.OrderID)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	provider, ok := parseAddress(req.Provider)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid provider address")
		return
	}

	proposal, err := s.engine.CreateProposal(caller, orderID, provider, req.FeeBps)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toProposalResponse(proposal))
}

func (s *Server) handleProposalByID(w http.ResponseWriter, r *http.Request) {
	rawID, action := subPath(r.URL.Path, "proposals")
	id, ok := parseHash(rawID)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	if action == "" && r.Method == http.MethodGet {
		proposal, err := s.engine.GetProposal(id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, toProposalResponse(proposal))
		return
	}

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	switch action {
	case "accept":
		err = s.engine.AcceptProposal(caller, id)
	case "reject":
		var req struct {
			Reason string `json:"reason"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		err = s.engine.RejectProposal(caller, id, req.Reason)
	case "timeout":
		err = s.engine.TimeoutProposal(caller, id)
	case "execute":
		err = s.engine.ExecuteSettlement(r.Context(), caller, id)
	default:
		s.writeError(w, http.StatusNotFound, "unknown route")
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Provider intents ────────────────────────────────────────────────────────

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req registerIntentRequest
		if !s.decode(w, r, &req) {
			return
		}
		amount, ok := parseAmount(req.Amount)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		intent, err := s.engine.RegisterIntent(caller, settlement.IntentParams{
			Currency:         req.Currency,
			Amount:           amount,
			MinFeeBps:        req.MinFeeBps,
			MaxFeeBps:        req.MaxFeeBps,
			CommitmentWindow: time.Duration(req.CommitmentWindowSecs) * time.Second,
		})
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, toIntentResponse(intent))

	case http.MethodPut:
		var req struct {
			Amount string `json:"amount"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		amount, ok := parseAmount(req.Amount)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		intent, err := s.engine.UpdateIntent(caller, amount)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, toIntentResponse(intent))

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleIntentByProvider(w http.ResponseWriter, r *http.Request) {
	rawAddr, action := subPath(r.URL.Path, "intents")
	provider, ok := parseAddress(rawAddr)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid provider address")
		return
	}

	if action == "" && r.Method == http.MethodGet {
		intent, err := s.engine.GetIntent(provider)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, toIntentResponse(intent))
		return
	}

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	switch action {
	case "expire":
		err = s.engine.ExpireIntent(caller, provider)
	case "reserve", "release":
		var req struct {
			Amount string `json:"amount"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		amount, ok := parseAmount(req.Amount)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		if action == "reserve" {
			err = s.engine.ReserveIntent(caller, provider, amount)
		} else {
			err = s.engine.ReleaseIntent(caller, provider, amount)
		}
	default:
		s.writeError(w, http.StatusNotFound, "unknown route")
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Reputation and trust ────────────────────────────────────────────────────

func (s *Server) handleProviderByAddress(w http.ResponseWriter, r *http.Request) {
	rawAddr, action := subPath(r.URL.Path, "providers")
	provider, ok := parseAddress(rawAddr)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid provider address")
		return
	}

	switch {
	case action == "reputation" && r.Method == http.MethodGet:
		rep, err := s.engine.GetReputation(provider)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, toReputationResponse(rep))

	case action == "flag" && r.Method == http.MethodPost:
		caller, err := callerAddress(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if err := s.engine.FlagFraudulent(caller, provider); err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "flagged"})

	case action == "blacklist" && r.Method == http.MethodPost:
		caller, err := callerAddress(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		var req struct {
			Reason string `json:"reason"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		if err := s.engine.BlacklistProvider(caller, provider, req.Reason); err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "blacklisted"})

	default:
		s.writeError(w, http.StatusNotFound, "unknown route")
	}
}

// ─── Integrators ─────────────────────────────────────────────────────────────

func (s *Server) handleIntegrators(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req struct {
		FeeBps uint64 `json:"fee_bps"`
		Name   string `json:"name"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	info, err := s.engine.RegisterIntegrator(caller, req.FeeBps, req.Name)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toIntegratorResponse(info))
}

func (s *Server) handleIntegratorByAddress(w http.ResponseWriter, r *http.Request) {
	rawAddr, action := subPath(r.URL.Path, "integrators")
	addr, ok := parseAddress(rawAddr)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid integrator address")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		info, err := s.engine.GetIntegrator(addr)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, toIntegratorResponse(info))

	case action == "fee" && r.Method == http.MethodPut:
		caller, err := callerAddress(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		var req struct {
			FeeBps uint64 `json:"fee_bps"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		if err := s.engine.UpdateIntegratorFee(caller, req.FeeBps); err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case action == "name" && r.Method == http.MethodPut:
		caller, err := callerAddress(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if !s.decode(w, r, &req) {
			return
		}
		if err := s.engine.UpdateIntegratorName(caller, req.Name); err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		s.writeError(w, http.StatusNotFound, "unknown route")
	}
}

// ─── Nonce ───────────────────────────────────────────────────────────────────

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rawAddr, _ := subPath(r.URL.Path, "nonce")
	addr, ok := parseAddress(rawAddr)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"nonce": s.engine.Nonce(addr)})
}
