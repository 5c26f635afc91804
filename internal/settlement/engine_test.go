package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearmesh/clearmesh/internal/auth"
	"github.com/clearmesh/clearmesh/internal/config"
	"github.com/clearmesh/clearmesh/internal/ledger"
)

var (
	testAsset      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testEscrow     = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	testTreasury   = common.HexToAddress("0x0000000000000000000000000000000000000011")
	testAggregator = common.HexToAddress("0x0000000000000000000000000000000000000022")
	testAdmin      = common.HexToAddress("0x0000000000000000000000000000000000000033")
	testUser       = common.HexToAddress("0x0000000000000000000000000000000000000044")
	testRefund     = common.HexToAddress("0x0000000000000000000000000000000000000055")
	testIntegrator = common.HexToAddress("0x0000000000000000000000000000000000000066")
	testProviderA  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testProviderB  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

type fixture struct {
	t      *testing.T
	engine *Engine
	ledger *ledger.MemoryLedger
	authz  *auth.Registry
	clock  *FakeClock
	events []Event

	hashSeq int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.DefaultProtocolConfig()
	cfg.TreasuryAddress = testTreasury.Hex()
	cfg.AggregatorAddress = testAggregator.Hex()
	cfg.SupportedAssets = []string{testAsset.Hex()}
	params, err := ParamsFromConfig(cfg)
	if err != nil {
		t.Fatalf("ParamsFromConfig: %v", err)
	}

	authz := auth.NewRegistry()
	authz.Grant(auth.RoleAggregator, testAggregator)
	authz.Grant(auth.RoleAdmin, testAdmin)
	authz.Grant(auth.RoleProvider, testProviderA)
	authz.Grant(auth.RoleProvider, testProviderB)

	f := &fixture{
		t:      t,
		ledger: ledger.NewMemoryLedger(testEscrow),
		authz:  authz,
		clock:  NewFakeClock(time.Unix(1_700_000_000, 0)),
	}
	engine, err := NewEngine(Deps{
		Store:     NewMemoryStore(),
		Ledger:    f.ledger,
		Authz:     authz,
		Blacklist: authz,
		Params:    params,
		Clock:     f.clock,
		Events:    SinkFunc(func(e Event) { f.events = append(f.events, e) }),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	f.engine = engine
	return f
}

func (f *fixture) nextHash() common.Hash {
	f.hashSeq++
	return common.BigToHash(big.NewInt(f.hashSeq))
}

func (f *fixture) balance(account common.Address) *big.Int {
	f.t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), testAsset, account)
	if err != nil {
		f.t.Fatalf("BalanceOf: %v", err)
	}
	return b
}

// createOrder mints amount to user, escrows it, and returns the new order.
func (f *fixture) createOrder(user common.Address, amount int64) *Order {
	f.t.Helper()
	f.ledger.Mint(testAsset, user, big.NewInt(amount))
	order, err := f.engine.CreateOrder(context.Background(), user, OrderParams{
		Asset:            testAsset,
		Amount:           big.NewInt(amount),
		RefundAddress:    testRefund,
		Integrator:       testIntegrator,
		IntegratorFeeBps: 200,
		MessageHash:      f.nextHash(),
	})
	if err != nil {
		f.t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func (f *fixture) registerIntent(provider common.Address, amount int64) *ProviderIntent {
	f.t.Helper()
	intent, err := f.engine.RegisterIntent(provider, IntentParams{
		Currency:         "USDC",
		Amount:           big.NewInt(amount),
		MinFeeBps:        50,
		MaxFeeBps:        500,
		CommitmentWindow: 10 * time.Minute,
	})
	if err != nil {
		f.t.Fatalf("RegisterIntent(%s): %v", provider.Hex(), err)
	}
	return intent
}

func (f *fixture) propose(orderID common.Hash, provider common.Address) *SettlementProposal {
	f.t.Helper()
	proposal, err := f.engine.CreateProposal(testAggregator, orderID, provider, 150)
	if err != nil {
		f.t.Fatalf("CreateProposal(%s): %v", provider.Hex(), err)
	}
	return proposal
}

func TestCreateOrderEscrowsFunds(t *testing.T) {
	f := newFixture(t)

	order := f.createOrder(testUser, 10_000)
	if order.Status != OrderPending {
		t.Errorf("status = %s, want PENDING", order.Status)
	}
	if got := f.balance(testEscrow); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("escrow balance = %s, want 10000", got)
	}
	if got := f.balance(testUser); got.Sign() != 0 {
		t.Errorf("user balance = %s, want 0", got)
	}
	if order.Tier != 1 {
		t.Errorf("tier = %d, want 1 for amount far below first threshold", order.Tier)
	}
	if !order.ExpiresAt.Equal(order.CreatedAt.Add(time.Hour)) {
		t.Errorf("expiry window = %s, want 1h", order.ExpiresAt.Sub(order.CreatedAt))
	}

	got, err := f.engine.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.ID != order.ID || got.User != testUser {
		t.Errorf("GetOrder returned mismatched order")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	f.ledger.Mint(testAsset, testUser, big.NewInt(1_000_000))

	base := OrderParams{
		Asset:            testAsset,
		Amount:           big.NewInt(1000),
		RefundAddress:    testRefund,
		Integrator:       testIntegrator,
		IntegratorFeeBps: 200,
		MessageHash:      f.nextHash(),
	}

	cases := []struct {
		name   string
		mutate func(*OrderParams)
	}{
		{"unsupported asset", func(p *OrderParams) { p.Asset = common.HexToAddress("0xdead") }},
		{"zero amount", func(p *OrderParams) { p.Amount = big.NewInt(0) }},
		{"negative amount", func(p *OrderParams) { p.Amount = big.NewInt(-5) }},
		{"zero refund address", func(p *OrderParams) { p.RefundAddress = common.Address{} }},
		{"zero integrator", func(p *OrderParams) { p.Integrator = common.Address{} }},
		{"integrator fee above cap", func(p *OrderParams) { p.IntegratorFeeBps = 99_999 }},
		{"zero message hash", func(p *OrderParams) { p.MessageHash = common.Hash{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := base
			params.MessageHash = f.nextHash()
			tc.mutate(&params)
			_, err := f.engine.CreateOrder(context.Background(), testUser, params)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}

	if got := f.balance(testEscrow); got.Sign() != 0 {
		t.Errorf("escrow balance = %s after rejected orders, want 0", got)
	}
}

func TestCreateOrderReplayGuard(t *testing.T) {
	f := newFixture(t)
	f.ledger.Mint(testAsset, testUser, big.NewInt(5000))

	hash := f.nextHash()
	params := OrderParams{
		Asset:            testAsset,
		Amount:           big.NewInt(1000),
		RefundAddress:    testRefund,
		Integrator:       testIntegrator,
		IntegratorFeeBps: 0,
		MessageHash:      hash,
	}
	order, err := f.engine.CreateOrder(context.Background(), testUser, params)
	if err != nil {
		t.Fatalf("first CreateOrder: %v", err)
	}

	if _, err := f.engine.CreateOrder(context.Background(), testUser, params); !errors.Is(err, ErrReplay) {
		t.Fatalf("duplicate hash err = %v, want ErrReplay", err)
	}

	// The guard outlives the order's terminal state.
	f.clock.Advance(2 * time.Hour)
	if err := f.engine.RefundOrder(context.Background(), testAggregator, order.ID); err != nil {
		t.Fatalf("RefundOrder: %v", err)
	}
	if _, err := f.engine.CreateOrder(context.Background(), testUser, params); !errors.Is(err, ErrReplay) {
		t.Errorf("hash reuse after refund err = %v, want ErrReplay", err)
	}
}

func TestOrderIDsDeterministicPerNonce(t *testing.T) {
	f := newFixture(t)

	if got := f.engine.Nonce(testUser); got != 0 {
		t.Fatalf("initial nonce = %d, want 0", got)
	}
	first := f.createOrder(testUser, 1000)
	if got := f.engine.Nonce(testUser); got != 1 {
		t.Errorf("nonce after one order = %d, want 1", got)
	}
	second := f.createOrder(testUser, 1000)
	if first.ID == second.ID {
		t.Errorf("consecutive orders share an ID")
	}

	gen := NewKeccakIDGenerator(0)
	if want := gen.OrderID(testUser, 0); first.ID != want {
		t.Errorf("order ID not reproducible from (user, nonce)")
	}
}

func TestAcceptProposalFirstCommitWins(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 50_000)
	f.registerIntent(testProviderB, 50_000)

	order := f.createOrder(testUser, 10_000)
	pa := f.propose(order.ID, testProviderA)
	pb := f.propose(order.ID, testProviderB)

	if err := f.engine.AcceptProposal(testProviderB, pb.ID); err != nil {
		t.Fatalf("first acceptance: %v", err)
	}
	if err := f.engine.AcceptProposal(testProviderA, pa.ID); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("second acceptance err = %v, want ErrStateConflict", err)
	}

	got, err := f.engine.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != OrderAccepted {
		t.Errorf("order status = %s, want ACCEPTED", got.Status)
	}
	if got.AcceptedProposalID == nil || *got.AcceptedProposalID != pb.ID {
		t.Errorf("accepted proposal mismatch")
	}
	if got.FulfilledBy == nil || *got.FulfilledBy != testProviderB {
		t.Errorf("fulfilling provider mismatch")
	}
}

func TestAcceptProposalOnlyNamedProvider(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 50_000)

	order := f.createOrder(testUser, 10_000)
	proposal := f.propose(order.ID, testProviderA)

	if err := f.engine.AcceptProposal(testProviderB, proposal.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("foreign provider accept err = %v, want ErrUnauthorized", err)
	}
}

func TestAcceptProposalDeadline(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 50_000)

	order := f.createOrder(testUser, 10_000)
	proposal := f.propose(order.ID, testProviderA)

	f.clock.Advance(6 * time.Minute) // past the 5 minute proposal timeout
	if err := f.engine.AcceptProposal(testProviderA, proposal.ID); !errors.Is(err, ErrTooLate) {
		t.Errorf("late accept err = %v, want ErrTooLate", err)
	}
}

func TestProposalReservesCapacity(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 10_000)

	first := f.createOrder(testUser, 8_000)
	f.propose(first.ID, testProviderA)

	intent, err := f.engine.GetIntent(testProviderA)
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if intent.AvailableAmount.Cmp(big.NewInt(2_000)) != 0 {
		t.Errorf("available after reserve = %s, want 2000", intent.AvailableAmount)
	}

	second := f.createOrder(testUser, 8_000)
	_, err = f.engine.CreateProposal(testAggregator, second.ID, testProviderA, 150)
	if !errors.Is(err, ErrStateConflict) {
		t.Errorf("oversubscribed proposal err = %v, want ErrStateConflict", err)
	}
}

func TestCreateProposalFeeRange(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 50_000) // range [50, 500]
	order := f.createOrder(testUser, 10_000)

	for _, fee := range []uint64{49, 501} {
		if _, err := f.engine.CreateProposal(testAggregator, order.ID, testProviderA, fee); !errors.Is(err, ErrValidation) {
			t.Errorf("fee %d err = %v, want ErrValidation", fee, err)
		}
	}
}

func TestReserveReleaseRestoresCapacity(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 1_000)

	if err := f.engine.ReserveIntent(testAggregator, testProviderA, big.NewInt(400)); err != nil {
		t.Fatalf("ReserveIntent: %v", err)
	}
	intent, _ := f.engine.GetIntent(testProviderA)
	if intent.AvailableAmount.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("available = %s, want 600", intent.AvailableAmount)
	}

	// Over-reservation is rejected and changes nothing.
	if err := f.engine.ReserveIntent(testAggregator, testProviderA, big.NewInt(601)); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("over-reserve err = %v, want ErrStateConflict", err)
	}
	intent, _ = f.engine.GetIntent(testProviderA)
	if intent.AvailableAmount.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("available after failed reserve = %s, want 600", intent.AvailableAmount)
	}

	if err := f.engine.ReleaseIntent(testAggregator, testProviderA, big.NewInt(400)); err != nil {
		t.Fatalf("ReleaseIntent: %v", err)
	}
	intent, _ = f.engine.GetIntent(testProviderA)
	if intent.AvailableAmount.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("available after release = %s, want 1000", intent.AvailableAmount)
	}
}

func TestExecuteSettlementSplit(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 50_000)

	// amount 10,000; protocol 100 bps -> 10; integrator 200 bps -> 20;
	// provider gets the 9,970 remainder. Proposed fee 150 bps is recorded
	// but never deducted.
	order := f.createOrder(testUser, 10_000)
	proposal := f.propose(order.ID, testProviderA)
	if err := f.engine.AcceptProposal(testProviderA, proposal.ID); err != nil {
		t.Fatalf("AcceptProposal: %v", err)
	}

	f.clock.Advance(90 * time.Second)
	if err := f.engine.ExecuteSettlement(context.Background(), testAggregator, proposal.ID); err != nil {
		t.Fatalf("ExecuteSettlement: %v", err)
	}

	if got := f.balance(testTreasury); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("treasury = %s, want 10", got)
	}
	if got := f.balance(testIntegrator); got.Cmp(big.NewInt(20)) != 0 {
		t.Errorf("integrator = %s, want 20", got)
	}
	if got := f.balance(testProviderA); got.Cmp(big.NewInt(9_970)) != 0 {
		t.Errorf("provider = %s, want 9970", got)
	}
	if got := f.balance(testEscrow); got.Sign() != 0 {
		t.Errorf("escrow residue = %s, want 0", got)
	}

	gotOrder, _ := f.engine.GetOrder(order.ID)
	if gotOrder.Status != OrderFulfilled {
		t.Errorf("order status = %s, want FULFILLED", gotOrder.Status)
	}
	gotProposal, _ := f.engine.GetProposal(proposal.ID)
	if !gotProposal.Executed {
		t.Errorf("proposal not marked executed")
	}

	if err := f.engine.ExecuteSettlement(context.Background(), testAggregator, proposal.ID); !errors.Is(err, ErrStateConflict) {
		t.Errorf("double execute err = %v, want ErrStateConflict", err)
	}

	rep, err := f.engine.GetReputation(testProviderA)
	if err != nil {
		t.Fatalf("GetReputation: %v", err)
	}
	if rep.TotalOrders != 1 || rep.SuccessfulOrders != 1 {
		t.Errorf("reputation counters = %d/%d, want 1/1", rep.TotalOrders, rep.SuccessfulOrders)
	}
	if rep.AverageSettlementTime() != 90*time.Second {
		t.Errorf("average settlement time = %s, want 90s", rep.AverageSettlementTime())
	}
}

func TestExecuteSettlementRequiresAcceptance(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 50_000)

	order := f.createOrder(testUser, 10_000)
	proposal := f.propose(order.ID, testProviderA)

	if err := f.engine.ExecuteSettlement(context.Background(), testAggregator, proposal.ID); !errors.Is(err, ErrStateConflict) {
		t.Errorf("execute before acceptance err = %v, want ErrStateConflict", err)
	}
	if err := f.engine.ExecuteSettlement(context.Background(), testProviderA, proposal.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-aggregator execute err = %v, want ErrUnauthorized", err)
	}
}

// failingLedger fails the Nth Transfer call to exercise mid-settlement
// rollback.
type failingLedger struct {
	*ledger.MemoryLedger
	failAt int
	calls  int
}

func (l *failingLedger) Transfer(ctx context.Context, asset, recipient common.Address, amount *big.Int) error {
	l.calls++
	if l.calls == l.failAt {
		return errors.New("transfer rejected")
	}
	return l.MemoryLedger.Transfer(ctx, asset, recipient, amount)
}

func TestExecuteSettlementRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t)
	flaky := &failingLedger{MemoryLedger: f.ledger, failAt: 3} // provider leg fails
	f.engine.ledger = flaky

	f.registerIntent(testProviderA, 50_000)
	order := f.createOrder(testUser, 10_000)
	proposal := f.propose(order.ID, testProviderA)
	if err := f.engine.AcceptProposal(testProviderA, proposal.ID); err != nil {
		t.Fatalf("AcceptProposal: %v", err)
	}

	if err := f.engine.ExecuteSettlement(context.Background(), testAggregator, proposal.ID); err == nil {
		t.Fatalf("expected settlement failure")
	}

	// Escrow restored in full, no partial disbursal, state untouched.
	if got := f.balance(testEscrow); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("escrow = %s after rollback, want 10000", got)
	}
	if got := f.balance(testTreasury); got.Sign() != 0 {
		t.Errorf("treasury = %s after rollback, want 0", got)
	}
	gotOrder, _ := f.engine.GetOrder(order.ID)
	if gotOrder.Status != OrderAccepted {
		t.Errorf("order status = %s after rollback, want ACCEPTED", gotOrder.Status)
	}
	gotProposal, _ := f.engine.GetProposal(proposal.ID)
	if gotProposal.Executed {
		t.Errorf("proposal marked executed after failed settlement")
	}

	// The same call succeeds once the ledger recovers.
	if err := f.engine.ExecuteSettlement(context.Background(), testAggregator, proposal.ID); err != nil {
		t.Errorf("retry after recovery: %v", err)
	}
	if got := f.balance(testProviderA); got.Cmp(big.NewInt(9_970)) != 0 {
		t.Errorf("provider = %s after retry, want 9970", got)
	}
}

func TestRefundOrderAfterExpiry(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(testUser, 10_000)

	if err := f.engine.RefundOrder(context.Background(), testAggregator, order.ID); !errors.Is(err, ErrTooEarly) {
		t.Fatalf("early refund err = %v, want ErrTooEarly", err)
	}

	f.clock.Advance(61 * time.Minute)
	if err := f.engine.RefundOrder(context.Background(), testAggregator, order.ID); err != nil {
		t.Fatalf("RefundOrder: %v", err)
	}
	if got := f.balance(testRefund); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("refund address = %s, want 10000", got)
	}
	gotOrder, _ := f.engine.GetOrder(order.ID)
	if gotOrder.Status != OrderRefunded {
		t.Errorf("status = %s, want REFUNDED", gotOrder.Status)
	}

	if err := f.engine.RefundOrder(context.Background(), testAggregator, order.ID); !errors.Is(err, ErrStateConflict) {
		t.Errorf("double refund err = %v, want ErrStateConflict", err)
	}
}

func TestRequestRefundOwnerPath(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(testUser, 5_000)

	if err := f.engine.RequestRefund(context.Background(), testRefund, order.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner refund err = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.RequestRefund(context.Background(), testUser, order.ID); !errors.Is(err, ErrTooEarly) {
		t.Fatalf("early owner refund err = %v, want ErrTooEarly", err)
	}

	f.clock.Advance(2 * time.Hour)
	if err := f.engine.RequestRefund(context.Background(), testUser, order.ID); err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	gotOrder, _ := f.engine.GetOrder(order.ID)
	if gotOrder.Status != OrderCancelled {
		t.Errorf("status = %s, want CANCELLED", gotOrder.Status)
	}
	if got := f.balance(testRefund); got.Cmp(big.NewInt(5_000)) != 0 {
		t.Errorf("refund address = %s, want 5000", got)
	}
}

func TestRequestRefundRejectsAcceptedOrder(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 50_000)
	order := f.createOrder(testUser, 10_000)
	proposal := f.propose(order.ID, testProviderA)
	if err := f.engine.AcceptProposal(testProviderA, proposal.ID); err != nil {
		t.Fatalf("AcceptProposal: %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	if err := f.engine.RequestRefund(context.Background(), testUser, order.ID); !errors.Is(err, ErrStateConflict) {
		t.Errorf("owner refund of ACCEPTED order err = %v, want ErrStateConflict", err)
	}
}

func TestRejectProposalReleasesAndCountsNoShow(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 10_000)
	order := f.createOrder(testUser, 8_000)
	proposal := f.propose(order.ID, testProviderA)

	if err := f.engine.RejectProposal(testProviderA, proposal.ID, "insufficient float"); err != nil {
		t.Fatalf("RejectProposal: %v", err)
	}
	intent, _ := f.engine.GetIntent(testProviderA)
	if intent.AvailableAmount.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("capacity after rejection = %s, want 10000", intent.AvailableAmount)
	}
	rep, _ := f.engine.GetReputation(testProviderA)
	if rep.NoShowCount != 1 {
		t.Errorf("no-show count = %d, want 1", rep.NoShowCount)
	}
	gotProposal, _ := f.engine.GetProposal(proposal.ID)
	if gotProposal.Status != ProposalRejected {
		t.Errorf("proposal status = %s, want REJECTED", gotProposal.Status)
	}

	if err := f.engine.RejectProposal(testProviderA, proposal.ID, "again"); !errors.Is(err, ErrStateConflict) {
		t.Errorf("double rejection err = %v, want ErrStateConflict", err)
	}
}

func TestTimeoutProposal(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 10_000)
	order := f.createOrder(testUser, 8_000)
	proposal := f.propose(order.ID, testProviderA)

	if err := f.engine.TimeoutProposal(testAggregator, proposal.ID); !errors.Is(err, ErrTooEarly) {
		t.Fatalf("early timeout err = %v, want ErrTooEarly", err)
	}

	f.clock.Advance(6 * time.Minute)
	if err := f.engine.TimeoutProposal(testAggregator, proposal.ID); err != nil {
		t.Fatalf("TimeoutProposal: %v", err)
	}
	intent, _ := f.engine.GetIntent(testProviderA)
	if intent.AvailableAmount.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("capacity after timeout = %s, want 10000", intent.AvailableAmount)
	}
	rep, _ := f.engine.GetReputation(testProviderA)
	if rep.NoShowCount != 1 {
		t.Errorf("no-show count = %d, want 1", rep.NoShowCount)
	}
}

func TestIntentValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		params IntentParams
	}{
		{"zero amount", IntentParams{Currency: "USDC", Amount: big.NewInt(0), MinFeeBps: 10, MaxFeeBps: 100, CommitmentWindow: time.Minute}},
		{"inverted range", IntentParams{Currency: "USDC", Amount: big.NewInt(100), MinFeeBps: 200, MaxFeeBps: 100, CommitmentWindow: time.Minute}},
		{"fee over ceiling", IntentParams{Currency: "USDC", Amount: big.NewInt(100), MinFeeBps: 10, MaxFeeBps: 6000, CommitmentWindow: time.Minute}},
		{"zero window", IntentParams{Currency: "USDC", Amount: big.NewInt(100), MinFeeBps: 10, MaxFeeBps: 100}},
		{"empty currency", IntentParams{Amount: big.NewInt(100), MinFeeBps: 10, MaxFeeBps: 100, CommitmentWindow: time.Minute}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.RegisterIntent(testProviderA, tc.params); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}

	if _, err := f.engine.RegisterIntent(testUser, IntentParams{
		Currency: "USDC", Amount: big.NewInt(100), MinFeeBps: 10, MaxFeeBps: 100, CommitmentWindow: time.Minute,
	}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-provider registration err = %v, want ErrUnauthorized", err)
	}
}

func TestIntentLifecycle(t *testing.T) {
	f := newFixture(t)
	intent := f.registerIntent(testProviderA, 1_000)

	if err := f.engine.ExpireIntent(testUser, testProviderA); !errors.Is(err, ErrTooEarly) {
		t.Fatalf("early expire err = %v, want ErrTooEarly", err)
	}

	f.clock.Advance(12 * time.Hour)
	updated, err := f.engine.UpdateIntent(testProviderA, big.NewInt(2_000))
	if err != nil {
		t.Fatalf("UpdateIntent: %v", err)
	}
	if !updated.ExpiresAt.After(intent.ExpiresAt) {
		t.Errorf("update did not refresh expiry")
	}

	f.clock.Advance(25 * time.Hour)
	if err := f.engine.ExpireIntent(testUser, testProviderA); err != nil {
		t.Fatalf("ExpireIntent: %v", err)
	}
	got, _ := f.engine.GetIntent(testProviderA)
	if got.Active {
		t.Errorf("intent still active after expiry")
	}

	if err := f.engine.ExpireIntent(testUser, testProviderA); !errors.Is(err, ErrStateConflict) {
		t.Errorf("double expire err = %v, want ErrStateConflict", err)
	}
	if _, err := f.engine.UpdateIntent(testProviderA, big.NewInt(500)); !errors.Is(err, ErrStateConflict) {
		t.Errorf("update inactive intent err = %v, want ErrStateConflict", err)
	}

	// Re-registration replaces the lapsed intent wholesale.
	fresh := f.registerIntent(testProviderA, 3_000)
	if !fresh.Active {
		t.Errorf("re-registered intent inactive")
	}
}

func TestFlagFraudulentDeactivatesIntent(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 1_000)

	if err := f.engine.FlagFraudulent(testAggregator, testProviderA); err != nil {
		t.Fatalf("FlagFraudulent: %v", err)
	}
	rep, _ := f.engine.GetReputation(testProviderA)
	if !rep.Fraudulent {
		t.Errorf("fraud flag not set")
	}
	intent, _ := f.engine.GetIntent(testProviderA)
	if intent.Active {
		t.Errorf("intent still active after fraud flag")
	}
	if err := f.engine.FlagFraudulent(testAggregator, testProviderA); !errors.Is(err, ErrStateConflict) {
		t.Errorf("double flag err = %v, want ErrStateConflict", err)
	}
}

func TestBlacklistProviderPropagates(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 50_000)
	order := f.createOrder(testUser, 10_000)

	if err := f.engine.BlacklistProvider(testAggregator, testProviderA, "fraud"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin blacklist err = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.BlacklistProvider(testAdmin, testProviderA, "fraud"); err != nil {
		t.Fatalf("BlacklistProvider: %v", err)
	}

	rep, _ := f.engine.GetReputation(testProviderA)
	if !rep.Blacklisted {
		t.Errorf("blacklist flag not set")
	}
	intent, _ := f.engine.GetIntent(testProviderA)
	if intent.Active {
		t.Errorf("intent still active after blacklist")
	}

	// Every mutating entry point now rejects the provider.
	if _, err := f.engine.RegisterIntent(testProviderA, IntentParams{
		Currency: "USDC", Amount: big.NewInt(100), MinFeeBps: 10, MaxFeeBps: 100, CommitmentWindow: time.Minute,
	}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("blacklisted re-registration err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.engine.CreateProposal(testAggregator, order.ID, testProviderA, 150); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("proposal to blacklisted provider err = %v, want ErrUnauthorized", err)
	}
}

func TestSystemLockRejectsAllMutations(t *testing.T) {
	f := newFixture(t)
	f.ledger.Mint(testAsset, testUser, big.NewInt(1000))
	f.authz.Lock()

	if _, err := f.engine.CreateOrder(context.Background(), testUser, OrderParams{
		Asset: testAsset, Amount: big.NewInt(100), RefundAddress: testRefund,
		Integrator: testIntegrator, MessageHash: f.nextHash(),
	}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("locked CreateOrder err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.engine.RegisterIntent(testProviderA, IntentParams{
		Currency: "USDC", Amount: big.NewInt(100), MinFeeBps: 10, MaxFeeBps: 100, CommitmentWindow: time.Minute,
	}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("locked RegisterIntent err = %v, want ErrUnauthorized", err)
	}

	f.authz.Unlock()
	if _, err := f.engine.RegisterIntent(testProviderA, IntentParams{
		Currency: "USDC", Amount: big.NewInt(100), MinFeeBps: 10, MaxFeeBps: 100, CommitmentWindow: time.Minute,
	}); err != nil {
		t.Errorf("RegisterIntent after unlock: %v", err)
	}
}

func TestIntegratorRegistry(t *testing.T) {
	f := newFixture(t)

	info, err := f.engine.RegisterIntegrator(testIntegrator, 200, "acme-pay")
	if err != nil {
		t.Fatalf("RegisterIntegrator: %v", err)
	}
	if !info.Registered || info.FeeBps != 200 || info.Name != "acme-pay" {
		t.Errorf("integrator record mismatch: %+v", info)
	}

	if _, err := f.engine.RegisterIntegrator(testIntegrator, 300, "acme-pay"); !errors.Is(err, ErrStateConflict) {
		t.Errorf("duplicate registration err = %v, want ErrStateConflict", err)
	}
	if _, err := f.engine.RegisterIntegrator(testUser, 3000, "x"); !errors.Is(err, ErrValidation) {
		t.Errorf("fee over bound err = %v, want ErrValidation", err)
	}
	longName := make([]byte, 65)
	for i := range longName {
		longName[i] = 'a'
	}
	if _, err := f.engine.RegisterIntegrator(testUser, 100, string(longName)); !errors.Is(err, ErrValidation) {
		t.Errorf("oversized name err = %v, want ErrValidation", err)
	}

	if err := f.engine.UpdateIntegratorFee(testIntegrator, 500); err != nil {
		t.Fatalf("UpdateIntegratorFee: %v", err)
	}
	if err := f.engine.UpdateIntegratorName(testIntegrator, "acme-pay-v2"); err != nil {
		t.Fatalf("UpdateIntegratorName: %v", err)
	}
	got, _ := f.engine.GetIntegrator(testIntegrator)
	if got.FeeBps != 500 || got.Name != "acme-pay-v2" {
		t.Errorf("updated record mismatch: %+v", got)
	}
	if err := f.engine.UpdateIntegratorFee(testUser, 100); !errors.Is(err, ErrNotFound) {
		t.Errorf("update of unregistered integrator err = %v, want ErrNotFound", err)
	}

	// Order flow accretes onto the registered record.
	f.createOrder(testUser, 7_000)
	got, _ = f.engine.GetIntegrator(testIntegrator)
	if got.TotalOrders != 1 || got.TotalVolume.Cmp(big.NewInt(7_000)) != 0 {
		t.Errorf("volume accrual = %d orders / %s, want 1 / 7000", got.TotalOrders, got.TotalVolume)
	}
}

func TestEscrowConservation(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 100_000)

	settled := f.createOrder(testUser, 10_000)
	refunded := f.createOrder(testUser, 4_000)

	proposal := f.propose(settled.ID, testProviderA)
	if err := f.engine.AcceptProposal(testProviderA, proposal.ID); err != nil {
		t.Fatalf("AcceptProposal: %v", err)
	}
	if err := f.engine.ExecuteSettlement(context.Background(), testAggregator, proposal.ID); err != nil {
		t.Fatalf("ExecuteSettlement: %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	if err := f.engine.RefundOrder(context.Background(), testAggregator, refunded.ID); err != nil {
		t.Fatalf("RefundOrder: %v", err)
	}

	// Every escrowed unit is accounted for across the split and the refund.
	disbursed := new(big.Int)
	for _, account := range []common.Address{testTreasury, testIntegrator, testProviderA, testRefund} {
		disbursed.Add(disbursed, f.balance(account))
	}
	if disbursed.Cmp(big.NewInt(14_000)) != 0 {
		t.Errorf("total disbursed = %s, want 14000", disbursed)
	}
	if got := f.balance(testEscrow); got.Sign() != 0 {
		t.Errorf("escrow residue = %s, want 0", got)
	}
}

func TestComputeSplitRemainderToProvider(t *testing.T) {
	// Truncating division on both fee legs leaves the dust with the provider.
	split := ComputeSplit(big.NewInt(999), 100, 200)
	if split.ProtocolFee.Cmp(big.NewInt(0)) != 0 {
		t.Errorf("protocol fee = %s, want 0", split.ProtocolFee)
	}
	if split.IntegratorFee.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("integrator fee = %s, want 1", split.IntegratorFee)
	}
	if split.ProviderAmount.Cmp(big.NewInt(998)) != 0 {
		t.Errorf("provider amount = %s, want 998", split.ProviderAmount)
	}

	total := new(big.Int).Add(split.ProtocolFee, split.IntegratorFee)
	total.Add(total, split.ProviderAmount)
	if total.Cmp(big.NewInt(999)) != 0 {
		t.Errorf("split does not conserve amount: %s", total)
	}
}

func TestEventsCarryTransitions(t *testing.T) {
	f := newFixture(t)
	f.registerIntent(testProviderA, 50_000)
	order := f.createOrder(testUser, 10_000)
	proposal := f.propose(order.ID, testProviderA)
	if err := f.engine.AcceptProposal(testProviderA, proposal.ID); err != nil {
		t.Fatalf("AcceptProposal: %v", err)
	}
	if err := f.engine.ExecuteSettlement(context.Background(), testAggregator, proposal.ID); err != nil {
		t.Fatalf("ExecuteSettlement: %v", err)
	}

	var seen []string
	for _, e := range f.events {
		seen = append(seen, e.EventType())
	}
	want := []string{
		"intent.registered",
		"order.created",
		"intent.reserved",
		"proposal.created",
		"proposal.accepted",
		"reputation.updated",
		"settlement.executed",
	}
	for _, w := range want {
		found := false
		for _, got := range seen {
			if got == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing event %q in %v", w, seen)
		}
	}
}
