package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"CardVault/service/cards/internal/domain"
	"github.com/google/uuid"
)

// Store tiene account, inventari, catalogo e staff in memoria.
// Stessa semantica atomica del Repo Postgres; usato con STORE_DRIVER=memory e nei test.
type Store struct {
	mu        sync.Mutex
	accounts  map[string]domain.Account
	order     []string
	inventory map[string][]domain.OwnedCard
	cards     map[int64]domain.CardDefinition
	staff     map[string]domain.Role
}

// New crea uno store vuoto.
func New() *Store {
	return &Store{
		accounts:  make(map[string]domain.Account),
		inventory: make(map[string][]domain.OwnedCard),
		cards:     make(map[int64]domain.CardDefinition),
		staff:     make(map[string]domain.Role),
	}
}

func (s *Store) InsertAccount(_ context.Context, acc domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.UserID]; ok {
		return domain.ErrAlreadyRegistered
	}
	s.accounts[acc.UserID] = acc
	s.order = append(s.order, acc.UserID)
	return nil
}

func (s *Store) GetAccount(_ context.Context, userID string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[userID]
	if !ok {
		return domain.Account{}, domain.ErrNotRegistered
	}
	return acc, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.accounts[id])
	}
	return out, nil
}

func (s *Store) CountAccounts(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts), nil
}

// ListInventory ritorna una copia dell'inventario in ordine di acquisizione.
func (s *Store) ListInventory(_ context.Context, userID string) ([]domain.OwnedCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OwnedCard(nil), s.inventory[userID]...), nil
}

// GrantClaim applica il compare-and-set su LastClaimAt e aggiunge la copia.
func (s *Store) GrantClaim(_ context.Context, userID string, prev, now time.Time, card domain.CardDefinition) (domain.OwnedCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[userID]
	if !ok {
		return domain.OwnedCard{}, domain.ErrNotRegistered
	}
	if !acc.LastClaimAt.Equal(prev) {
		return domain.OwnedCard{}, domain.ErrClaimConflict
	}
	acc.LastClaimAt = now.UTC()
	s.accounts[userID] = acc

	owned := domain.OwnedCard{ID: uuid.New(), OwnerID: userID, Card: card, AcquiredAt: now.UTC()}
	s.inventory[userID] = append(s.inventory[userID], owned)
	return owned, nil
}

func (s *Store) MissingCards(_ context.Context, userID string, ids []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []uuid.UUID
	for _, id := range ids {
		if indexOf(s.inventory[userID], id) < 0 {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// SwapCards verifica tutte le copie prima di spostarne una: o tutto o niente.
func (s *Store) SwapCards(_ context.Context, swap domain.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := &domain.StaleOfferError{}
	for _, id := range swap.InitiatorCards {
		if indexOf(s.inventory[swap.InitiatorID], id) < 0 {
			stale.Add(swap.InitiatorID, id)
		}
	}
	for _, id := range swap.TargetCards {
		if indexOf(s.inventory[swap.TargetID], id) < 0 {
			stale.Add(swap.TargetID, id)
		}
	}
	if !stale.Empty() {
		return stale
	}

	at := swap.At.UTC()
	s.move(swap.InitiatorID, swap.TargetID, swap.InitiatorCards, at)
	s.move(swap.TargetID, swap.InitiatorID, swap.TargetCards, at)
	return nil
}

func (s *Store) move(from, to string, ids []uuid.UUID, at time.Time) {
	for _, id := range ids {
		inv := s.inventory[from]
		i := indexOf(inv, id)
		card := inv[i]
		s.inventory[from] = append(inv[:i:i], inv[i+1:]...)
		card.OwnerID = to
		card.AcquiredAt = at
		s.inventory[to] = append(s.inventory[to], card)
	}
}

func (s *Store) FindStaff(_ context.Context, userID string) (domain.StaffGrant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.staff[userID]
	if !ok {
		return domain.StaffGrant{}, false, nil
	}
	return domain.StaffGrant{UserID: userID, Role: role}, true, nil
}

func (s *Store) UpsertStaff(_ context.Context, grant domain.StaffGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[grant.UserID] = grant.Role
	return nil
}

func (s *Store) DeleteStaff(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staff, userID)
	return nil
}

func (s *Store) ListStaff(_ context.Context) ([]domain.StaffGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StaffGrant, 0, len(s.staff))
	for id, role := range s.staff {
		out = append(out, domain.StaffGrant{UserID: id, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) ListCards(_ context.Context) ([]domain.CardDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CardDefinition, 0, len(s.cards))
	for _, def := range s.cards {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountCards(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cards), nil
}

func (s *Store) InsertCards(_ context.Context, defs []domain.CardDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, def := range defs {
		s.cards[def.ID] = def
	}
	return nil
}

func indexOf(cards []domain.OwnedCard, id uuid.UUID) int {
	for i, c := range cards {
		if c.ID == id {
			return i
		}
	}
	return -1
}
