package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/internal/auth"
	"github.com/clearmesh/clearmesh/internal/config"
	"github.com/clearmesh/clearmesh/internal/ledger"
	"github.com/clearmesh/clearmesh/internal/settlement"
)

var (
	testAsset      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testEscrow     = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	testTreasury   = common.HexToAddress("0x0000000000000000000000000000000000000011")
	testAggregator = common.HexToAddress("0x0000000000000000000000000000000000000022")
	testUser       = common.HexToAddress("0x0000000000000000000000000000000000000044")
	testRefund     = common.HexToAddress("0x0000000000000000000000000000000000000055")
	testIntegrator = common.HexToAddress("0x0000000000000000000000000000000000000066")
	testProvider   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

type testServer struct {
	t       *testing.T
	server  *Server
	router  http.Handler
	engine  *settlement.Engine
	ledger  *ledger.MemoryLedger
	authz   *auth.Registry
	clock   *settlement.FakeClock
	hashSeq int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.DefaultProtocolConfig()
	cfg.TreasuryAddress = testTreasury.Hex()
	cfg.AggregatorAddress = testAggregator.Hex()
	cfg.SupportedAssets = []string{testAsset.Hex()}
	params, err := settlement.ParamsFromConfig(cfg)
	if err != nil {
		t.Fatalf("ParamsFromConfig: %v", err)
	}

	authz := auth.NewRegistry()
	authz.Grant(auth.RoleAggregator, testAggregator)
	authz.Grant(auth.RoleProvider, testProvider)

	clock := settlement.NewFakeClock(time.Unix(1_700_000_000, 0))
	led := ledger.NewMemoryLedger(testEscrow)
	engine, err := settlement.NewEngine(settlement.Deps{
		Store:  settlement.NewMemoryStore(),
		Ledger: led,
		Authz:  authz,
		Params: params,
		Clock:  clock,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	server := NewServer(config.DefaultAPIConfig(), engine, nil, nil)
	server.SetAuthRegistry(authz)
	return &testServer{
		t:      t,
		server: server,
		router: server.buildRouter(),
		engine: engine,
		ledger: led,
		authz:  authz,
		clock:  clock,
	}
}

// do sends a JSON request through the router as the given caller.
func (ts *testServer) do(method, path string, caller *common.Address, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			ts.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != nil {
		req.Header.Set(callerHeader, caller.Hex())
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) nextHash() string {
	ts.hashSeq++
	return common.BigToHash(big.NewInt(ts.hashSeq)).Hex()
}

func (ts *testServer) createOrder(amount int64) orderResponse {
	ts.t.Helper()
	ts.ledger.Mint(testAsset, testUser, big.NewInt(amount))
	rec := ts.do(http.MethodPost, "/v1/orders", &testUser, createOrderRequest{
		Asset:            testAsset.Hex(),
		Amount:           fmt.Sprintf("%d", amount),
		RefundAddress:    testRefund.Hex(),
		Integrator:       testIntegrator.Hex(),
		IntegratorFeeBps: 200,
		MessageHash:      ts.nextHash(),
	})
	if rec.Code != http.StatusCreated {
		ts.t.Fatalf("create order status = %d, body %s", rec.Code, rec.Body)
	}
	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		ts.t.Fatalf("decode order: %v", err)
	}
	return resp
}

func (ts *testServer) registerIntent(amount int64) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/v1/intents", &testProvider, registerIntentRequest{
		Currency:             "USDC",
		Amount:               fmt.Sprintf("%d", amount),
		MinFeeBps:            50,
		MaxFeeBps:            500,
		CommitmentWindowSecs: 600,
	})
	if rec.Code != http.StatusCreated {
		ts.t.Fatalf("register intent status = %d, body %s", rec.Code, rec.Body)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body, err)
	}
	return body
}

func TestCreateOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)
	order := ts.createOrder(10_000)

	if order.Status != "PENDING" {
		t.Errorf("status = %s, want PENDING", order.Status)
	}
	if order.Amount != "10000" {
		t.Errorf("amount = %s, want 10000", order.Amount)
	}

	rec := ts.do(http.MethodGet, "/v1/orders/"+order.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order status = %d", rec.Code)
	}
}

func TestCreateOrderRequiresCaller(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/v1/orders", nil, createOrderRequest{})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestErrorClassMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.Mint(testAsset, testUser, big.NewInt(100_000))

	// Validation: unsupported asset.
	rec := ts.do(http.MethodPost, "/v1/orders", &testUser, createOrderRequest{
		Asset:         common.HexToAddress("0xdead").Hex(),
		Amount:        "100",
		RefundAddress: testRefund.Hex(),
		Integrator:    testIntegrator.Hex(),
		MessageHash:   ts.nextHash(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("validation status = %d, want 400", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != "validation" {
		t.Errorf("validation code = %s", body.Code)
	}

	// Replay: duplicate message hash.
	hash := ts.nextHash()
	req := createOrderRequest{
		Asset:         testAsset.Hex(),
		Amount:        "100",
		RefundAddress: testRefund.Hex(),
		Integrator:    testIntegrator.Hex(),
		MessageHash:   hash,
	}
	if rec := ts.do(http.MethodPost, "/v1/orders", &testUser, req); rec.Code != http.StatusCreated {
		t.Fatalf("first order status = %d", rec.Code)
	}
	rec = ts.do(http.MethodPost, "/v1/orders", &testUser, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("replay status = %d, want 409", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != "replay" {
		t.Errorf("replay code = %s", body.Code)
	}

	// Not found.
	rec = ts.do(http.MethodGet, "/v1/orders/"+common.BigToHash(big.NewInt(9999)).Hex(), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("not found status = %d, want 404", rec.Code)
	}

	// Unauthorized: user lacks aggregator role for refund.
	order := ts.createOrder(500)
	rec = ts.do(http.MethodPost, "/v1/orders/"+order.ID+"/refund", &testRefund, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("unauthorized status = %d, want 403", rec.Code)
	}

	// Too early: refund before expiry.
	rec = ts.do(http.MethodPost, "/v1/orders/"+order.ID+"/refund", &testAggregator, nil)
	if rec.Code != http.StatusTooEarly {
		t.Errorf("too early status = %d, want 425", rec.Code)
	}
}

func TestProposalFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.registerIntent(50_000)
	order := ts.createOrder(10_000)

	rec := ts.do(http.MethodPost, "/v1/proposals", &testAggregator, createProposalRequest{
		OrderID:  order.ID,
		Provider: testProvider.Hex(),
		FeeBps:   150,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create proposal status = %d, body %s", rec.Code, rec.Body)
	}
	var proposal proposalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &proposal); err != nil {
		t.Fatalf("decode proposal: %v", err)
	}

	if rec := ts.do(http.MethodPost, "/v1/proposals/"+proposal.ID+"/accept", &testProvider, nil); rec.Code != http.StatusOK {
		t.Fatalf("accept status = %d, body %s", rec.Code, rec.Body)
	}
	if rec := ts.do(http.MethodPost, "/v1/proposals/"+proposal.ID+"/execute", &testAggregator, nil); rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d, body %s", rec.Code, rec.Body)
	}

	rec = ts.do(http.MethodGet, "/v1/orders/"+order.ID, nil, nil)
	var settled orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &settled); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if settled.Status != "FULFILLED" {
		t.Errorf("order status = %s, want FULFILLED", settled.Status)
	}

	// Second execution is a conflict.
	rec = ts.do(http.MethodPost, "/v1/proposals/"+proposal.ID+"/execute", &testAggregator, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("double execute status = %d, want 409", rec.Code)
	}

	// Proposals are listed under their order.
	rec = ts.do(http.MethodGet, "/v1/orders/"+order.ID+"/proposals", nil, nil)
	var list []proposalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode proposal list: %v", err)
	}
	if len(list) != 1 || list[0].ID != proposal.ID {
		t.Errorf("proposal list mismatch: %+v", list)
	}

	// Reputation reflects the settlement.
	rec = ts.do(http.MethodGet, "/v1/providers/"+testProvider.Hex()+"/reputation", nil, nil)
	var rep reputationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode reputation: %v", err)
	}
	if rep.SuccessfulOrders != 1 {
		t.Errorf("successful orders = %d, want 1", rep.SuccessfulOrders)
	}
}

func TestNonceEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createOrder(1000)

	rec := ts.do(http.MethodGet, "/v1/nonce/"+testUser.Hex(), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("nonce status = %d", rec.Code)
	}
	var resp map[string]uint64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode nonce: %v", err)
	}
	if resp["nonce"] != 1 {
		t.Errorf("nonce = %d, want 1", resp["nonce"])
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}

func TestRateLimiting(t *testing.T) {
	ts := newTestServer(t)
	ts.server.config.RateLimitRequests = 2
	ts.server.config.RateLimitWindowSecs = 60

	var limited bool
	for i := 0; i < 5; i++ {
		rec := ts.do(http.MethodGet, "/v1/nonce/"+testUser.Hex(), nil, nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Errorf("rate limiter never engaged")
	}
}

func TestAdminRoleManagement(t *testing.T) {
	ts := newTestServer(t)
	admin := common.HexToAddress("0x0000000000000000000000000000000000000099")
	ts.authz.Grant(auth.RoleAdmin, admin)
	newcomer := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	// Non-admin callers are rejected.
	rec := ts.do(http.MethodPost, "/v1/admin/roles", &testUser, roleRequest{
		Action: "grant", Role: "provider", Address: newcomer.Hex(),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin grant status = %d, want 403", rec.Code)
	}

	rec = ts.do(http.MethodPost, "/v1/admin/roles", &admin, roleRequest{
		Action: "grant", Role: "provider", Address: newcomer.Hex(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("grant status = %d, body %s", rec.Code, rec.Body)
	}
	if !ts.authz.HasRole(auth.RoleProvider, newcomer) {
		t.Errorf("role not granted")
	}

	rec = ts.do(http.MethodPost, "/v1/admin/roles", &admin, roleRequest{
		Action: "revoke", Role: "provider", Address: newcomer.Hex(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", rec.Code)
	}
	if ts.authz.HasRole(auth.RoleProvider, newcomer) {
		t.Errorf("role not revoked")
	}

	// Lock and unlock round-trip.
	if rec := ts.do(http.MethodPost, "/v1/admin/lock", &admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("lock status = %d", rec.Code)
	}
	if !ts.authz.IsLocked() {
		t.Errorf("system not locked")
	}
	if rec := ts.do(http.MethodPost, "/v1/admin/unlock", &admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("unlock status = %d", rec.Code)
	}
	if ts.authz.IsLocked() {
		t.Errorf("system still locked")
	}
}

func TestRouteLabelBoundsCardinality(t *testing.T) {
	cases := map[string]string{
		"/v1/orders":                   "/v1/orders",
		"/v1/orders/0xabc":             "/v1/orders/:id",
		"/v1/orders/0xabc/refund":      "/v1/orders/:id",
		"/v1/proposals/0xdef/execute":  "/v1/proposals/:id",
		"/healthz":                     "/healthz",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
