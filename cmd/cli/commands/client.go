package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/clearmesh/clearmesh/internal/util"
)

// callerHeader carries the caller address; the node trusts it on the local
// listener and gateways verify signatures upstream.
const callerHeader = "X-Caller-Address"

// Client is a thin HTTP client for the node API.
type Client struct {
	baseURL string
	caller  string
	http    *http.Client
}

// NewClient builds a client for the given endpoint. caller may be empty for
// read-only requests.
func NewClient(baseURL, caller string) *Client {
	return &Client{
		baseURL: baseURL,
		caller:  caller,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// GetClient builds a client from the current CLI globals.
func GetClient() *Client {
	return NewClient(GetAPIEndpoint(), GetCallerAddress())
}

// GetCallerOrDie returns the configured caller address or exits with a
// styled error. Mutating commands require one.
func GetCallerOrDie() string {
	caller := GetCallerAddress()
	if caller == "" {
		Error("caller address required: set --caller or CLEARMESH_CALLER")
		os.Exit(1)
	}
	return caller
}

// APIError is a structured error response from the node.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// do sends a JSON request and decodes the JSON response into out (if non-nil).
// Transport failures are retried; API errors are not.
func (c *Client) do(method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	attempt := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequest(method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.caller != "" {
			req.Header.Set(callerHeader, c.caller)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		if resp.StatusCode >= 400 {
			apiErr := &APIError{Status: resp.StatusCode}
			if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Message == "" {
				apiErr.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
			}
			return apiErr
		}

		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	}

	result := util.Retry(context.Background(), &util.RetryConfig{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
		RetryIf: func(err error) bool {
			var apiErr *APIError
			return !asAPIError(err, &apiErr)
		},
	}, attempt)
	return result.LastError
}

func asAPIError(err error, target **APIError) bool {
	if e, ok := err.(*APIError); ok {
		*target = e
		return true
	}
	return false
}

// Wire types mirrored from the node API.

type Order struct {
	ID                 string    `json:"id"`
	User               string    `json:"user"`
	Asset              string    `json:"asset"`
	Amount             string    `json:"amount"`
	Tier               uint8     `json:"tier"`
	Status             string    `json:"status"`
	RefundAddress      string    `json:"refund_address"`
	CreatedAt          time.Time `json:"created_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	AcceptedProposalID *string   `json:"accepted_proposal_id,omitempty"`
	FulfilledBy        *string   `json:"fulfilled_by,omitempty"`
	Integrator         string    `json:"integrator"`
	IntegratorFeeBps   uint64    `json:"integrator_fee_bps"`
	MessageHash        string    `json:"message_hash"`
}

type Proposal struct {
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

type Intent struct {
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

type Reputation struct {
	Provider              string `json:"provider"`
	TotalOrders           uint64 `json:"total_orders"`
	SuccessfulOrders      uint64 `json:"successful_orders"`
	FailedOrders          uint64 `json:"failed_orders"`
	NoShowCount           uint64 `json:"no_show_count"`
	AverageSettlementSecs int64  `json:"average_settlement_secs"`
	Fraudulent            bool   `json:"fraudulent"`
	Blacklisted           bool   `json:"blacklisted"`
}

type Integrator struct {
	Integrator   string    `json:"integrator"`
	Registered   bool      `json:"registered"`
	FeeBps       uint64    `json:"fee_bps"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
	TotalOrders  uint64    `json:"total_orders"`
	TotalVolume  string    `json:"total_volume"`
}

// Orders

type CreateOrderParams struct {
	Asset            string `json:"asset"`
	Amount           string `json:"amount"`
	RefundAddress    string `json:"refund_address"`
	Integrator       string `json:"integrator"`
	IntegratorFeeBps uint64 `json:"integrator_fee_bps"`
	MessageHash      string `json:"message_hash"`
}

func (c *Client) CreateOrder(params CreateOrderParams) (*Order, error) {
	var out Order
	if err := c.do(http.MethodPost, "/v1/orders", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetOrder(id string) (*Order, error) {
	var out Order
	if err := c.do(http.MethodGet, "/v1/orders/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OrderProposals(id string) ([]Proposal, error) {
	var out []Proposal
	if err := c.do(http.MethodGet, "/v1/orders/"+id+"/proposals", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RefundOrder(id string) error {
	return c.do(http.MethodPost, "/v1/orders/"+id+"/refund", nil, nil)
}

func (c *Client) CancelOrder(id string) error {
	return c.do(http.MethodPost, "/v1/orders/"+id+"/cancel", nil, nil)
}

// Proposals

type CreateProposalParams struct {
	OrderID  string `json:"order_id"`
	Provider string `json:"provider"`
	FeeBps   uint64 `json:"fee_bps"`
}

func (c *Client) CreateProposal(params CreateProposalParams) (*Proposal, error) {
	var out Proposal
	if err := c.do(http.MethodPost, "/v1/proposals", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetProposal(id string) (*Proposal, error) {
	var out Proposal
	if err := c.do(http.MethodGet, "/v1/proposals/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AcceptProposal(id string) error {
	return c.do(http.MethodPost, "/v1/proposals/"+id+"/accept", nil, nil)
}

func (c *Client) RejectProposal(id, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(http.MethodPost, "/v1/proposals/"+id+"/reject", body, nil)
}

func (c *Client) TimeoutProposal(id string) error {
	return c.do(http.MethodPost, "/v1/proposals/"+id+"/timeout", nil, nil)
}

func (c *Client) ExecuteSettlement(id string) error {
	return c.do(http.MethodPost, "/v1/proposals/"+id+"/execute", nil, nil)
}

// Intents

type RegisterIntentParams struct {
	Currency             string `json:"currency"`
	Amount               string `json:"amount"`
	MinFeeBps            uint64 `json:"min_fee_bps"`
	MaxFeeBps            uint64 `json:"max_fee_bps"`
	CommitmentWindowSecs int64  `json:"commitment_window_secs"`
}

func (c *Client) RegisterIntent(params RegisterIntentParams) (*Intent, error) {
	var out Intent
	if err := c.do(http.MethodPost, "/v1/intents", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateIntent(amount string) (*Intent, error) {
	body := map[string]string{"amount": amount}
	var out Intent
	if err := c.do(http.MethodPut, "/v1/intents", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetIntent(provider string) (*Intent, error) {
	var out Intent
	if err := c.do(http.MethodGet, "/v1/intents/"+provider, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ExpireIntent(provider string) error {
	return c.do(http.MethodPost, "/v1/intents/"+provider+"/expire", nil, nil)
}

func (c *Client) ReserveIntent(provider, amount string) error {
	body := map[string]string{"amount": amount}
	return c.do(http.MethodPost, "/v1/intents/"+provider+"/reserve", body, nil)
}

func (c *Client) ReleaseIntent(provider, amount string) error {
	body := map[string]string{"amount": amount}
	return c.do(http.MethodPost, "/v1/intents/"+provider+"/release", body, nil)
}

// Providers

func (c *Client) GetReputation(provider string) (*Reputation, error) {
	var out Reputation
	if err := c.do(http.MethodGet, "/v1/providers/"+provider+"/reputation", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FlagProvider(provider string) error {
	return c.do(http.MethodPost, "/v1/providers/"+provider+"/flag", nil, nil)
}

func (c *Client) BlacklistProvider(provider, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(http.MethodPost, "/v1/providers/"+provider+"/blacklist", body, nil)
}

// Integrators

func (c *Client) RegisterIntegrator(feeBps uint64, name string) (*Integrator, error) {
	body := map[string]any{"fee_bps": feeBps, "name": name}
	var out Integrator
	if err := c.do(http.MethodPost, "/v1/integrators", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetIntegrator(address string) (*Integrator, error) {
	var out Integrator
	if err := c.do(http.MethodGet, "/v1/integrators/"+address, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetIntegratorFee(address string, feeBps uint64) error {
	body := map[string]uint64{"fee_bps": feeBps}
	return c.do(http.MethodPut, "/v1/integrators/"+address+"/fee", body, nil)
}

func (c *Client) SetIntegratorName(address, name string) error {
	body := map[string]string{"name": name}
	return c.do(http.MethodPut, "/v1/integrators/"+address+"/name", body, nil)
}

// Nonce returns the next order nonce for an address.
func (c *Client) Nonce(address string) (uint64, error) {
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := c.do(http.MethodGet, "/v1/nonce/"+address, nil, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// Admin

func (c *Client) AdminRole(action, role, address string) error {
	body := map[string]string{"action": action, "role": role, "address": address}
	return c.do(http.MethodPost, "/v1/admin/roles", body, nil)
}

func (c *Client) AdminLock() error {
	return c.do(http.MethodPost, "/v1/admin/lock", nil, nil)
}

func (c *Client) AdminUnlock() error {
	return c.do(http.MethodPost, "/v1/admin/unlock", nil, nil)
}
