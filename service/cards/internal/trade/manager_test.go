package trade

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"CardVault/service/cards/internal/channel"
	"CardVault/service/cards/internal/domain"
	"CardVault/service/cards/internal/lock"
	"github.com/google/uuid"
)

// fakeRepo simula inventari e scambio atomico in memoria.
type fakeRepo struct {
	mu        sync.Mutex
	accounts  map[string]bool
	inventory map[string][]uuid.UUID
	swapErr   error
	swaps     int
	// beforeSwap simula una modifica concorrente tra rivalidazione e scambio.
	beforeSwap func()
}

func newFakeRepo(users ...string) *fakeRepo {
	repo := &fakeRepo{accounts: map[string]bool{}, inventory: map[string][]uuid.UUID{}}
	for _, u := range users {
		repo.accounts[u] = true
	}
	return repo
}

func (f *fakeRepo) give(userID string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.inventory[userID] = append(f.inventory[userID], id)
	return id
}

func (f *fakeRepo) take(userID string, cardID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inventory[userID] = without(f.inventory[userID], cardID)
}

func (f *fakeRepo) owns(userID string, cardID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return contains(f.inventory[userID], cardID)
}

func (f *fakeRepo) GetAccount(_ context.Context, userID string) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accounts[userID] {
		return domain.Account{}, domain.ErrNotRegistered
	}
	return domain.Account{UserID: userID}, nil
}

func (f *fakeRepo) MissingCards(_ context.Context, userID string, ids []uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var missing []uuid.UUID
	for _, id := range ids {
		if !contains(f.inventory[userID], id) {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (f *fakeRepo) SwapCards(_ context.Context, swap domain.Swap) error {
	if f.beforeSwap != nil {
		f.beforeSwap()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.swapErr != nil {
		return f.swapErr
	}
	stale := &domain.StaleOfferError{}
	for _, id := range swap.InitiatorCards {
		if !contains(f.inventory[swap.InitiatorID], id) {
			stale.Add(swap.InitiatorID, id)
		}
	}
	for _, id := range swap.TargetCards {
		if !contains(f.inventory[swap.TargetID], id) {
			stale.Add(swap.TargetID, id)
		}
	}
	if !stale.Empty() {
		return stale
	}
	for _, id := range swap.InitiatorCards {
		f.inventory[swap.InitiatorID] = without(f.inventory[swap.InitiatorID], id)
		f.inventory[swap.TargetID] = append(f.inventory[swap.TargetID], id)
	}
	for _, id := range swap.TargetCards {
		f.inventory[swap.TargetID] = without(f.inventory[swap.TargetID], id)
		f.inventory[swap.InitiatorID] = append(f.inventory[swap.InitiatorID], id)
	}
	f.swaps++
	return nil
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func without(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

type harness struct {
	repo    *fakeRepo
	prov    *channel.LocalProvisioner
	locker  *lock.LocalLock
	manager *Manager
	now     time.Time
}

func newHarness(t *testing.T, users ...string) *harness {
	t.Helper()
	h := &harness{
		repo:   newFakeRepo(users...),
		prov:   channel.NewLocalProvisioner(),
		locker: lock.NewLocalLock(time.Minute, 0, time.Millisecond),
		now:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	h.manager = NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)), h.repo, h.prov, h.locker, Options{
		IdleTimeout: 15 * time.Minute,
		Now:         func() time.Time { return h.now },
	})
	return h
}

func (h *harness) open(t *testing.T, initiator, target string) Session {
	t.Helper()
	s, err := h.manager.Initiate(context.Background(), InitiateRequest{GuildID: "g1", InitiatorID: initiator, TargetID: target})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	return s
}

// Lo scambio con se stessi fallisce sempre, registrato o no.
func TestInitiateSelfTrade(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()

	for _, user := range []string{"u1", "ghost"} {
		_, err := h.manager.Initiate(ctx, InitiateRequest{GuildID: "g1", InitiatorID: user, TargetID: user})
		if !errors.Is(err, domain.ErrInvalidPrincipal) {
			t.Fatalf("%s: expected ErrInvalidPrincipal, got %v", user, err)
		}
	}
	if h.prov.Categories() != 0 {
		t.Fatalf("no channel resources must be created")
	}
}

func TestInitiateUnregistered(t *testing.T) {
	h := newHarness(t, "u1")
	ctx := context.Background()

	if _, err := h.manager.Initiate(ctx, InitiateRequest{GuildID: "g1", InitiatorID: "u1", TargetID: "ghost"}); !errors.Is(err, domain.ErrInvalidPrincipal) {
		t.Fatalf("expected ErrInvalidPrincipal for unknown target, got %v", err)
	}
	if _, err := h.manager.Initiate(ctx, InitiateRequest{GuildID: "g1", InitiatorID: "ghost", TargetID: "u1"}); !errors.Is(err, domain.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered for unknown initiator, got %v", err)
	}
}

// Categoria creata una volta, canale privato con esattamente le due parti.
func TestInitiateProvisionsChannel(t *testing.T) {
	h := newHarness(t, "u1", "u2", "u3")

	s1 := h.open(t, "u1", "u2")
	s2 := h.open(t, "u3", "u1")

	if h.prov.Categories() != 1 {
		t.Fatalf("expected one Trading category, got %d", h.prov.Categories())
	}
	req, ok := h.prov.Channel(s1.ChannelRef)
	if !ok {
		t.Fatalf("expected channel for session")
	}
	if len(req.Members) != 2 || req.Members[0] != "u1" || req.Members[1] != "u2" {
		t.Fatalf("unexpected members %v", req.Members)
	}
	if s1.ChannelRef == s2.ChannelRef {
		t.Fatalf("each session needs its own channel")
	}
	if s1.Status != domain.TradeOpen || s1.InitiatorAccepted || s1.TargetAccepted || len(s1.InitiatorOffer) != 0 {
		t.Fatalf("unexpected initial session %+v", s1)
	}
}

func TestOfferRequiresOwnership(t *testing.T) {
	h := newHarness(t, "u1", "u2")
	s := h.open(t, "u1", "u2")
	foreign := h.repo.give("u2")

	_, err := h.manager.Offer(context.Background(), s.ID, "u1", foreign)
	if !errors.Is(err, domain.ErrCardNotOwned) {
		t.Fatalf("expected ErrCardNotOwned, got %v", err)
	}
}

func TestOfferNotAParty(t *testing.T) {
	h := newHarness(t, "u1", "u2", "u3")
	s := h.open(t, "u1", "u2")
	card := h.repo.give("u3")
	ctx := context.Background()

	if _, err := h.manager.Offer(ctx, s.ID, "u3", card); !errors.Is(err, domain.ErrNotAParty) {
		t.Fatalf("expected ErrNotAParty, got %v", err)
	}
	if _, err := h.manager.Accept(ctx, s.ID, "u3"); !errors.Is(err, domain.ErrNotAParty) {
		t.Fatalf("expected ErrNotAParty on accept, got %v", err)
	}
	if _, err := h.manager.Cancel(ctx, s.ID, "u3"); !errors.Is(err, domain.ErrNotAParty) {
		t.Fatalf("expected ErrNotAParty on cancel, got %v", err)
	}
}

func TestUnknownSession(t *testing.T) {
	h := newHarness(t)
	if _, err := h.manager.Accept(context.Background(), uuid.New(), "u1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := h.manager.ByChannel("nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// Modificare l'offerta dopo un'accettazione obbliga entrambi a riconfermare.
func TestOfferAndRemoveResetAcceptance(t *testing.T) {
	h := newHarness(t, "u1", "u2")
	s := h.open(t, "u1", "u2")
	c1 := h.repo.give("u1")
	c2 := h.repo.give("u1")
	ctx := context.Background()

	if _, err := h.manager.Offer(ctx, s.ID, "u1", c1); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	got, err := h.manager.Accept(ctx, s.ID, "u2")
	if err != nil || !got.TargetAccepted {
		t.Fatalf("expected target accepted, got %+v (%v)", got, err)
	}

	got, err = h.manager.Offer(ctx, s.ID, "u1", c2)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if got.TargetAccepted || got.InitiatorAccepted {
		t.Fatalf("offer must reset acceptance, got %+v", got)
	}
	if len(got.InitiatorOffer) != 2 {
		t.Fatalf("expected 2 offered cards, got %d", len(got.InitiatorOffer))
	}

	// Offrire di nuovo la stessa carta non la duplica.
	got, _ = h.manager.Offer(ctx, s.ID, "u1", c2)
	if len(got.InitiatorOffer) != 2 {
		t.Fatalf("offer must behave as a set, got %d cards", len(got.InitiatorOffer))
	}

	if _, err := h.manager.Accept(ctx, s.ID, "u1"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	got, err = h.manager.Remove(ctx, s.ID, "u1", c1)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got.InitiatorAccepted || got.TargetAccepted {
		t.Fatalf("remove must reset acceptance, got %+v", got)
	}
	if len(got.InitiatorOffer) != 1 || got.InitiatorOffer[0] != c2 {
		t.Fatalf("unexpected offer after remove: %v", got.InitiatorOffer)
	}
}

// Scenario completo: offerte incrociate, doppia accettazione, commit.
func TestTradeCommit(t *testing.T) {
	h := newHarness(t, "u1", "u2")
	s := h.open(t, "u1", "u2")
	c1 := h.repo.give("u1")
	c2 := h.repo.give("u2")
	ctx := context.Background()

	if _, err := h.manager.Offer(ctx, s.ID, "u1", c1); err != nil {
		t.Fatalf("Offer u1: %v", err)
	}
	if _, err := h.manager.Offer(ctx, s.ID, "u2", c2); err != nil {
		t.Fatalf("Offer u2: %v", err)
	}
	got, err := h.manager.Accept(ctx, s.ID, "u1")
	if err != nil || got.Status != domain.TradeOpen {
		t.Fatalf("expected still open after first accept, got %+v (%v)", got, err)
	}
	got, err = h.manager.Accept(ctx, s.ID, "u2")
	if err != nil {
		t.Fatalf("Accept u2: %v", err)
	}
	if got.Status != domain.TradeCommitted {
		t.Fatalf("expected committed, got %s", got.Status)
	}

	if !h.repo.owns("u1", c2) || h.repo.owns("u1", c1) {
		t.Fatalf("u1 must hold c2 and not c1")
	}
	if !h.repo.owns("u2", c1) || h.repo.owns("u2", c2) {
		t.Fatalf("u2 must hold c1 and not c2")
	}
	if _, ok := h.prov.Channel(s.ChannelRef); ok {
		t.Fatalf("channel must be torn down after commit")
	}
	if _, err := h.manager.Get(s.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("terminal session must be gone, got %v", err)
	}
}

// Una carta sparita tra offerta e commit annulla tutto e riporta la sessione Open.
func TestCommitAbortsOnStaleOffer(t *testing.T) {
	h := newHarness(t, "u1", "u2")
	s := h.open(t, "u1", "u2")
	c1 := h.repo.give("u1")
	c2 := h.repo.give("u2")
	ctx := context.Background()

	_, _ = h.manager.Offer(ctx, s.ID, "u1", c1)
	_, _ = h.manager.Offer(ctx, s.ID, "u2", c2)
	_, _ = h.manager.Accept(ctx, s.ID, "u1")

	// La carta di u1 viene scambiata altrove.
	h.repo.take("u1", c1)

	got, err := h.manager.Accept(ctx, s.ID, "u2")
	var stale *domain.StaleOfferError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleOfferError, got %v", err)
	}
	if len(stale.Missing["u1"]) != 1 || stale.Missing["u1"][0] != c1 {
		t.Fatalf("expected c1 reported missing for u1, got %v", stale.Missing)
	}
	if _, ok := stale.Missing["u2"]; ok {
		t.Fatalf("u2 offer is still valid")
	}
	if got.Status != domain.TradeOpen || got.InitiatorAccepted || got.TargetAccepted {
		t.Fatalf("expected open session with reset acceptance, got %+v", got)
	}
	if !h.repo.owns("u2", c2) || h.repo.swaps != 0 {
		t.Fatalf("no inventory may change on abort")
	}
	if len(h.prov.Notices(s.ChannelRef)) != 1 {
		t.Fatalf("expected a stale notice in the trade channel")
	}
}

// La carta sparisce dopo la rivalidazione: lo store atomico respinge lo scambio.
func TestCommitAbortsWhenStoreDetectsStale(t *testing.T) {
	h := newHarness(t, "u1", "u2")
	s := h.open(t, "u1", "u2")
	c1 := h.repo.give("u1")
	c2 := h.repo.give("u2")
	ctx := context.Background()

	_, _ = h.manager.Offer(ctx, s.ID, "u1", c1)
	_, _ = h.manager.Offer(ctx, s.ID, "u2", c2)
	_, _ = h.manager.Accept(ctx, s.ID, "u1")
	h.repo.beforeSwap = func() {
		h.repo.take("u2", c2)
		h.repo.beforeSwap = nil
	}

	got, err := h.manager.Accept(ctx, s.ID, "u2")
	if !errors.Is(err, domain.ErrStaleOffer) {
		t.Fatalf("expected ErrStaleOffer, got %v", err)
	}
	if got.Status != domain.TradeOpen {
		t.Fatalf("expected open session, got %s", got.Status)
	}
	if !h.repo.owns("u1", c1) || h.repo.owns("u1", c2) {
		t.Fatalf("initiator inventory must be unchanged")
	}
}

// Due sessioni che offrono la stessa carta: solo la prima che fa commit riesce.
func TestOverlappingSessions(t *testing.T) {
	h := newHarness(t, "u1", "u2", "u3")
	c1 := h.repo.give("u1")
	ctx := context.Background()

	a := h.open(t, "u1", "u2")
	b := h.open(t, "u1", "u3")
	_, _ = h.manager.Offer(ctx, a.ID, "u1", c1)
	_, _ = h.manager.Offer(ctx, b.ID, "u1", c1)

	_, _ = h.manager.Accept(ctx, a.ID, "u1")
	if got, err := h.manager.Accept(ctx, a.ID, "u2"); err != nil || got.Status != domain.TradeCommitted {
		t.Fatalf("first trade should commit, got %+v (%v)", got, err)
	}

	_, _ = h.manager.Accept(ctx, b.ID, "u1")
	if _, err := h.manager.Accept(ctx, b.ID, "u3"); !errors.Is(err, domain.ErrStaleOffer) {
		t.Fatalf("second trade must fail with ErrStaleOffer, got %v", err)
	}
	if !h.repo.owns("u2", c1) || h.repo.owns("u3", c1) {
		t.Fatalf("card must end with u2 only")
	}
}

func TestCommitAccountBusy(t *testing.T) {
	h := newHarness(t, "u1", "u2")
	s := h.open(t, "u1", "u2")
	c1 := h.repo.give("u1")
	ctx := context.Background()

	_, _ = h.manager.Offer(ctx, s.ID, "u1", c1)
	_, _ = h.manager.Accept(ctx, s.ID, "u1")
	if _, ok, _ := h.locker.Acquire(ctx, lock.AccountKey("u2")); !ok {
		t.Fatalf("expected to hold u2 lock")
	}

	got, err := h.manager.Accept(ctx, s.ID, "u2")
	if !errors.Is(err, domain.ErrAccountBusy) {
		t.Fatalf("expected ErrAccountBusy, got %v", err)
	}
	if got.Status != domain.TradeOpen || got.InitiatorAccepted {
		t.Fatalf("expected open session with reset acceptance, got %+v", got)
	}
	// Il lock di u1 preso durante il tentativo deve essere stato rilasciato.
	if _, ok, _ := h.locker.Acquire(ctx, lock.AccountKey("u1")); !ok {
		t.Fatalf("u1 lock leaked")
	}
}

func TestCommitStoreUnavailable(t *testing.T) {
	h := newHarness(t, "u1", "u2")
	s := h.open(t, "u1", "u2")
	c1 := h.repo.give("u1")
	h.repo.swapErr = domain.Unavailable("swap cards", errors.New("db down"))
	ctx := context.Background()

	_, _ = h.manager.Offer(ctx, s.ID, "u1", c1)
	_, _ = h.manager.Accept(ctx, s.ID, "u1")
	got, err := h.manager.Accept(ctx, s.ID, "u2")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if got.Status != domain.TradeOpen {
		t.Fatalf("expected open session, got %s", got.Status)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t, "u1", "u2")
	s := h.open(t, "u1", "u2")
	c1 := h.repo.give("u1")
	ctx := context.Background()

	_, _ = h.manager.Offer(ctx, s.ID, "u1", c1)
	got, err := h.manager.Cancel(ctx, s.ID, "u2")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != domain.TradeCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if !h.repo.owns("u1", c1) {
		t.Fatalf("cancel must not touch inventories")
	}
	if _, ok := h.prov.Channel(s.ChannelRef); ok {
		t.Fatalf("channel must be torn down after cancel")
	}
	if _, err := h.manager.Offer(ctx, s.ID, "u1", c1); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after cancel, got %v", err)
	}
}

// Operazioni su uno snapshot terminale: stato non valido.
func TestCheckOpenPartyTerminal(t *testing.T) {
	s := &Session{InitiatorID: "u1", TargetID: "u2", Status: domain.TradeCommitted}
	if err := checkOpenParty(s, "u1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	s.Status = domain.TradeOpen
	if err := checkOpenParty(s, "u3"); !errors.Is(err, domain.ErrNotAParty) {
		t.Fatalf("expected ErrNotAParty, got %v", err)
	}
}

func TestByChannelAndListFor(t *testing.T) {
	h := newHarness(t, "u1", "u2", "u3")
	a := h.open(t, "u1", "u2")
	h.now = h.now.Add(time.Second)
	b := h.open(t, "u3", "u1")

	got, err := h.manager.ByChannel(a.ChannelRef)
	if err != nil || got.ID != a.ID {
		t.Fatalf("expected session %s, got %+v (%v)", a.ID, got, err)
	}
	list := h.manager.ListFor("u1")
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Fatalf("unexpected sessions for u1: %+v", list)
	}
	if len(h.manager.ListFor("u2")) != 1 {
		t.Fatalf("expected one session for u2")
	}
}

// Le sessioni inattive oltre il timeout vengono annullate dallo sweep.
func TestSweepExpiresIdleSessions(t *testing.T) {
	h := newHarness(t, "u1", "u2", "u3")
	ctx := context.Background()
	idle := h.open(t, "u1", "u2")
	h.now = h.now.Add(10 * time.Minute)
	active := h.open(t, "u1", "u3")

	h.now = h.now.Add(6 * time.Minute)
	if n := h.manager.Sweep(ctx); n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}
	if _, err := h.manager.Get(idle.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("idle session must be gone, got %v", err)
	}
	if _, ok := h.prov.Channel(idle.ChannelRef); ok {
		t.Fatalf("idle channel must be torn down")
	}
	if _, err := h.manager.Get(active.ID); err != nil {
		t.Fatalf("active session must survive, got %v", err)
	}
}

// Accettazioni parallele delle due parti producono un solo commit.
func TestConcurrentAcceptSingleCommit(t *testing.T) {
	h := newHarness(t, "u1", "u2")
	s := h.open(t, "u1", "u2")
	c1 := h.repo.give("u1")
	ctx := context.Background()
	_, _ = h.manager.Offer(ctx, s.ID, "u1", c1)

	var wg sync.WaitGroup
	for _, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, _ = h.manager.Accept(ctx, s.ID, user)
		}(user)
	}
	wg.Wait()

	if h.repo.swaps != 1 {
		t.Fatalf("expected exactly one swap, got %d", h.repo.swaps)
	}
	if !h.repo.owns("u2", c1) {
		t.Fatalf("expected c1 moved to u2")
	}
}
