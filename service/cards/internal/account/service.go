package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"CardVault/service/cards/internal/domain"
)

// Valori iniziali di un account appena registrato.
const (
	startLevel = 1
)

// Repository espone le operazioni sugli account usate dal dominio.
type Repository interface {
	InsertAccount(ctx context.Context, acc domain.Account) error
	GetAccount(ctx context.Context, userID string) (domain.Account, error)
	ListInventory(ctx context.Context, userID string) ([]domain.OwnedCard, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}

// Service gestisce registrazione e letture degli account.
type Service struct {
	logger *slog.Logger
	repo   Repository
	now    func() time.Time
}

// NewService crea il servizio; now e' iniettabile per i test.
func NewService(logger *slog.Logger, repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{logger: logger, repo: repo, now: now}
}

// Register crea l'account. lastClaimAt parte dalla registrazione: il primo claim attende un cooldown.
func (s *Service) Register(ctx context.Context, userID string) (domain.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Account{}, domain.ErrInvalidPrincipal
	}

	now := s.now().UTC()
	acc := domain.Account{
		UserID:       userID,
		RegisteredAt: now,
		LastClaimAt:  now,
		Level:        startLevel,
	}
	if err := s.repo.InsertAccount(ctx, acc); err != nil {
		if errors.Is(err, domain.ErrAlreadyRegistered) {
			return domain.Account{}, domain.ErrAlreadyRegistered
		}
		s.logger.Error("errore registrazione utente", "error", err, "user_id", userID)
		return domain.Account{}, err
	}

	s.logger.Info("utente registrato", "user_id", userID)
	return acc, nil
}

// Profile carica account e inventario ordinato.
func (s *Service) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	acc, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	cards, err := s.repo.ListInventory(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.Profile{Account: acc, Inventory: cards}, nil
}

// List ritorna tutti gli account (uso amministrativo).
func (s *Service) List(ctx context.Context) ([]domain.Account, error) {
	return s.repo.ListAccounts(ctx)
}
