package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

type mockDisputeStore struct {
	created  int
	updated  int
	err      error
	disputes map[uuid.UUID]domain.Dispute
}

func (m *mockDisputeStore) put(d *domain.Dispute) {
	if m.disputes == nil {
		m.disputes = make(map[uuid.UUID]domain.Dispute)
	}
	m.disputes[d.ID] = *d
}

func (m *mockDisputeStore) Create(_ context.Context, d *domain.Dispute) error {
	if m.err != nil {
		return m.err
	}
	m.created++
	m.put(d)
	return nil
}

func (m *mockDisputeStore) Update(_ context.Context, d *domain.Dispute) error {
	m.updated++
	m.put(d)
	return nil
}

func (m *mockDisputeStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Dispute, error) {
	d, ok := m.disputes[id]
	if !ok {
		return nil, errors.New("dispute not found")
	}
	out := d
	return &out, nil
}

func (m *mockDisputeStore) ListByMarket(_ context.Context, marketID string) ([]domain.Dispute, error) {
	var out []domain.Dispute
	for _, d := range m.disputes {
		if d.MarketID == marketID {
			out = append(out, d)
		}
	}
	return out, nil
}

type ledgerCall struct {
	op      string
	account string
	amount  float64
}

type mockLedger struct {
	calls   []ledgerCall
	holdErr error
}

func (m *mockLedger) HoldBond(_ context.Context, account string, amount float64, _ string) error {
	if m.holdErr != nil {
		return m.holdErr
	}
	m.calls = append(m.calls, ledgerCall{"hold", account, amount})
	return nil
}

func (m *mockLedger) ReleaseBond(_ context.Context, account string, amount float64, _ string) error {
	m.calls = append(m.calls, ledgerCall{"release", account, amount})
	return nil
}

func (m *mockLedger) PayReward(_ context.Context, account string, amount float64, _ string) error {
	m.calls = append(m.calls, ledgerCall{"reward", account, amount})
	return nil
}

func (m *mockLedger) TreasuryDeposit(_ context.Context, amount float64, _ string) error {
	m.calls = append(m.calls, ledgerCall{"treasury", "", amount})
	return nil
}

func (m *mockLedger) find(op string) (ledgerCall, bool) {
	for _, c := range m.calls {
		if c.op == op {
			return c, true
		}
	}
	return ledgerCall{}, false
}

func newTestDisputeService(t *testing.T) (*DisputeService, *mockLedger, *mockDisputeStore) {
	t.Helper()
	ledger := &mockLedger{}
	store := &mockDisputeStore{}
	return NewDisputeService(store, ledger, zap.NewNop()), ledger, store
}

func disputeRequest(marketValue float64) domain.DisputeRequest {
	return domain.DisputeRequest{
		MarketID:        "m1",
		ChallengerID:    "challenger-1",
		ChallengeReason: "official count disagrees",
		DisputedOutcome: domain.OutcomeYes,
		ProposedOutcome: domain.OutcomeNo,
		MarketValue:     marketValue,
		BondCurrency:    "USDC",
	}
}

func TestBondForClampsToPolicy(t *testing.T) {
	s, _, _ := newTestDisputeService(t)

	tests := []struct {
		name        string
		level       domain.DisputeLevel
		marketValue float64
		want        float64
	}{
		{"initial 2 percent", domain.DisputeInitial, 100_000, 2_000},
		{"appeal 5 percent", domain.DisputeAppeal, 100_000, 5_000},
		{"final 10 percent", domain.DisputeFinal, 100_000, 10_000},
		{"tiny market hits floor", domain.DisputeInitial, 10_000, 1_000},
		{"huge market hits ceiling", domain.DisputeFinal, 500_000_000, 10_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.BondFor(tt.level, tt.marketValue); got != tt.want {
				t.Fatalf("bond = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitiateLocksBond(t *testing.T) {
	s, ledger, store := newTestDisputeService(t)

	d, err := s.Initiate(context.Background(), disputeRequest(100_000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if d.BondAmount != 2_000 {
		t.Fatalf("bond = %v, want 2000", d.BondAmount)
	}
	if d.Level != domain.DisputeInitial || d.Status != domain.DisputeOpen {
		t.Fatalf("level=%s status=%s", d.Level, d.Status)
	}
	if want := d.CreatedAt.Add(domain.DisputeLevelConfigs[domain.DisputeInitial].SLA); !d.Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", d.Deadline, want)
	}
	hold, ok := ledger.find("hold")
	if !ok || hold.account != "challenger-1" || hold.amount != 2_000 {
		t.Fatalf("hold call = %+v", hold)
	}
	if store.created != 1 {
		t.Fatalf("store.created = %d, want 1", store.created)
	}
}

func TestInitiateValidation(t *testing.T) {
	s, ledger, _ := newTestDisputeService(t)
	ctx := context.Background()

	same := disputeRequest(100_000)
	same.ProposedOutcome = same.DisputedOutcome
	if _, err := s.Initiate(ctx, same); err == nil {
		t.Fatal("identical outcomes accepted")
	}

	free := disputeRequest(0)
	if _, err := s.Initiate(ctx, free); err == nil {
		t.Fatal("zero market value accepted")
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("ledger touched on rejected requests: %v", ledger.calls)
	}

	ledger.holdErr = errors.New("insufficient funds")
	if _, err := s.Initiate(ctx, disputeRequest(100_000)); err == nil {
		t.Fatal("hold failure not surfaced")
	}
}

func TestFinalizeOverturnedSplitsCounterpartBond(t *testing.T) {
	s, ledger, _ := newTestDisputeService(t)
	ctx := context.Background()

	d, err := s.Initiate(ctx, disputeRequest(100_000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	no := domain.OutcomeNo
	resolved, err := s.Finalize(ctx, d.ID, domain.DisputeOverturned, &no, "recount confirmed challenger")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if resolved.Status != domain.DisputeResolvedStat {
		t.Fatalf("status = %s, want resolved", resolved.Status)
	}
	if resolved.ChallengerReward != 500 {
		t.Fatalf("reward = %v, want 500 (25%% of 2000)", resolved.ChallengerReward)
	}
	if resolved.TreasuryFee != 1_500 {
		t.Fatalf("treasury fee = %v, want 1500", resolved.TreasuryFee)
	}
	// Reward plus fee must account for the entire forfeited counterpart bond.
	if resolved.ChallengerReward+resolved.TreasuryFee != resolved.BondAmount {
		t.Fatalf("reward %v + fee %v != bond %v", resolved.ChallengerReward, resolved.TreasuryFee, resolved.BondAmount)
	}
	if resolved.ResolvedOutcome == nil || *resolved.ResolvedOutcome != domain.OutcomeNo {
		t.Fatalf("resolved outcome = %v, want NO", resolved.ResolvedOutcome)
	}

	release, ok := ledger.find("release")
	if !ok || release.account != "challenger-1" || release.amount != 2_000 {
		t.Fatalf("release call = %+v", release)
	}
	reward, ok := ledger.find("reward")
	if !ok || reward.amount != 500 {
		t.Fatalf("reward call = %+v", reward)
	}
	treasury, ok := ledger.find("treasury")
	if !ok || treasury.amount != 1_500 {
		t.Fatalf("treasury call = %+v", treasury)
	}
}

func TestFinalizeUpheldForfeitsBond(t *testing.T) {
	s, ledger, _ := newTestDisputeService(t)
	ctx := context.Background()

	d, err := s.Initiate(ctx, disputeRequest(100_000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	resolved, err := s.Finalize(ctx, d.ID, domain.DisputeUpheld, nil, "original outcome stands")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if resolved.ChallengerReward != 0 {
		t.Fatalf("reward = %v, want 0", resolved.ChallengerReward)
	}
	if resolved.TreasuryFee != 2_000 {
		t.Fatalf("treasury fee = %v, want the full bond", resolved.TreasuryFee)
	}
	if _, ok := ledger.find("release"); ok {
		t.Fatal("upheld ruling released the challenger bond")
	}

	// Double finalization is rejected.
	var stateErr *DisputeStateError
	if _, err := s.Finalize(ctx, d.ID, domain.DisputeUpheld, nil, ""); !errors.As(err, &stateErr) {
		t.Fatalf("err = %v, want DisputeStateError", err)
	}
}

func TestEscalateAppealChain(t *testing.T) {
	s, _, _ := newTestDisputeService(t)
	ctx := context.Background()

	d, err := s.Initiate(ctx, disputeRequest(100_000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	var stateErr *DisputeStateError

	// Unresolved disputes cannot be appealed.
	if _, err := s.Escalate(ctx, d.ID, "counterparty-1"); !errors.As(err, &stateErr) {
		t.Fatalf("err = %v, want DisputeStateError for unresolved parent", err)
	}

	no := domain.OutcomeNo
	if _, err := s.Finalize(ctx, d.ID, domain.DisputeOverturned, &no, ""); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	appeal, err := s.Escalate(ctx, d.ID, "counterparty-1")
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if appeal.Level != domain.DisputeAppeal {
		t.Fatalf("level = %s, want appeal", appeal.Level)
	}
	if appeal.BondAmount != 5_000 {
		t.Fatalf("appeal bond = %v, want 5000", appeal.BondAmount)
	}
	if appeal.ParentID == nil || *appeal.ParentID != d.ID {
		t.Fatalf("parent id = %v, want %s", appeal.ParentID, d.ID)
	}
	parent, _ := s.Get(ctx, d.ID)
	if parent.ChildID == nil || *parent.ChildID != appeal.ID {
		t.Fatalf("parent child id = %v, want %s", parent.ChildID, appeal.ID)
	}

	// The same ruling cannot be appealed twice.
	if _, err := s.Escalate(ctx, d.ID, "someone-else"); !errors.As(err, &stateErr) {
		t.Fatalf("err = %v, want DisputeStateError for double appeal", err)
	}
}

func TestEscalateUpheldRulingFails(t *testing.T) {
	s, _, _ := newTestDisputeService(t)
	ctx := context.Background()

	d, err := s.Initiate(ctx, disputeRequest(100_000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := s.Finalize(ctx, d.ID, domain.DisputeUpheld, nil, ""); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	var stateErr *DisputeStateError
	if _, err := s.Escalate(ctx, d.ID, "counterparty-1"); !errors.As(err, &stateErr) {
		t.Fatalf("err = %v, want DisputeStateError", err)
	}
}

func TestEscalatePastFinalLevelFails(t *testing.T) {
	s, _, _ := newTestDisputeService(t)
	ctx := context.Background()
	no := domain.OutcomeNo

	d, err := s.Initiate(ctx, disputeRequest(100_000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := s.Finalize(ctx, d.ID, domain.DisputeOverturned, &no, ""); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	appeal, err := s.Escalate(ctx, d.ID, "counterparty-1")
	if err != nil {
		t.Fatalf("Escalate to appeal: %v", err)
	}
	if _, err := s.Finalize(ctx, appeal.ID, domain.DisputeOverturned, &no, ""); err != nil {
		t.Fatalf("Finalize appeal: %v", err)
	}
	final, err := s.Escalate(ctx, appeal.ID, "challenger-1")
	if err != nil {
		t.Fatalf("Escalate to final: %v", err)
	}
	if final.Level != domain.DisputeFinal {
		t.Fatalf("level = %s, want final", final.Level)
	}
	if final.BondAmount != 10_000 {
		t.Fatalf("final bond = %v, want 10000", final.BondAmount)
	}
	if _, err := s.Finalize(ctx, final.ID, domain.DisputeOverturned, &no, ""); err != nil {
		t.Fatalf("Finalize final: %v", err)
	}

	var stateErr *DisputeStateError
	if _, err := s.Escalate(ctx, final.ID, "counterparty-1"); !errors.As(err, &stateErr) {
		t.Fatalf("err = %v, want DisputeStateError past final level", err)
	}
}

func TestExpertPanelMatchesDomains(t *testing.T) {
	s, _, _ := newTestDisputeService(t)

	s.RegisterExpert(domain.ExpertProfile{ID: "e1", Name: "A", Domains: []string{"elections"}, Rating: 0.8})
	s.RegisterExpert(domain.ExpertProfile{ID: "e2", Name: "B", Domains: []string{"elections", "politics"}, Rating: 0.95})
	s.RegisterExpert(domain.ExpertProfile{ID: "e3", Name: "C", Domains: []string{"sports"}, Rating: 0.99})

	panel := s.ExpertPanel([]string{"elections"}, 2)
	if len(panel) != 2 {
		t.Fatalf("panel size = %d, want 2", len(panel))
	}
	if panel[0].ID != "e2" || panel[1].ID != "e1" {
		t.Fatalf("panel = %v, want e2 then e1", panel)
	}

	// No tag overlap falls back to the top-rated experts overall.
	fallback := s.ExpertPanel([]string{"weather"}, 1)
	if len(fallback) != 1 || fallback[0].ID != "e3" {
		t.Fatalf("fallback panel = %v, want e3", fallback)
	}
}

func TestDisputeStats(t *testing.T) {
	s, _, _ := newTestDisputeService(t)
	ctx := context.Background()
	no := domain.OutcomeNo

	a, _ := s.Initiate(ctx, disputeRequest(100_000))
	b, _ := s.Initiate(ctx, disputeRequest(200_000))
	_, _ = s.Initiate(ctx, disputeRequest(300_000))

	if _, err := s.Finalize(ctx, a.ID, domain.DisputeOverturned, &no, ""); err != nil {
		t.Fatalf("Finalize a: %v", err)
	}
	if _, err := s.Finalize(ctx, b.ID, domain.DisputeUpheld, nil, ""); err != nil {
		t.Fatalf("Finalize b: %v", err)
	}

	stats := s.Stats()
	if stats.Total != 3 || stats.Open != 1 || stats.Resolved != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Overturned != 1 || stats.Upheld != 1 {
		t.Fatalf("overturned=%d upheld=%d", stats.Overturned, stats.Upheld)
	}
	if stats.OverturnRate != 0.5 {
		t.Fatalf("overturn rate = %v, want 0.5", stats.OverturnRate)
	}
	if stats.ByLevel[domain.DisputeInitial] != 3 {
		t.Fatalf("by level = %v", stats.ByLevel)
	}
}

func TestDisputesSurviveRestartViaStore(t *testing.T) {
	s, ledger, store := newTestDisputeService(t)
	ctx := context.Background()
	no := domain.OutcomeNo

	d, err := s.Initiate(ctx, disputeRequest(100_000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	// A fresh service over the same store stands in for a restarted process.
	restarted := NewDisputeService(store, ledger, zap.NewNop())

	got, err := restarted.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if got.MarketID != "m1" || got.Status != domain.DisputeOpen {
		t.Fatalf("rehydrated dispute = %+v", got)
	}

	final, err := restarted.Finalize(ctx, d.ID, domain.DisputeOverturned, &no, "official recount")
	if err != nil {
		t.Fatalf("Finalize after restart: %v", err)
	}
	if final.Status != domain.DisputeResolvedStat {
		t.Fatalf("status = %s, want resolved", final.Status)
	}

	if _, err := restarted.Get(ctx, uuid.New()); !errors.Is(err, ErrDisputeNotFound) {
		t.Fatalf("err = %v, want ErrDisputeNotFound", err)
	}
}

func TestListByMarketReadsStore(t *testing.T) {
	s, ledger, store := newTestDisputeService(t)
	ctx := context.Background()

	if _, err := s.Initiate(ctx, disputeRequest(100_000)); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	other := disputeRequest(200_000)
	other.MarketID = "m2"
	if _, err := s.Initiate(ctx, other); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	restarted := NewDisputeService(store, ledger, zap.NewNop())
	disputes, err := restarted.ListByMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("ListByMarket: %v", err)
	}
	if len(disputes) != 1 || disputes[0].MarketID != "m1" {
		t.Fatalf("disputes = %+v", disputes)
	}
}
