package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"CardVault/service/cards/internal/catalog"
	"CardVault/service/cards/internal/domain"
)

// SentinelUserID e' l'account seme inserito nella collezione users vuota.
const SentinelUserID = "0"

// Repository espone conteggi e inserimenti usati dal seed iniziale.
type Repository interface {
	ListStaff(ctx context.Context) ([]domain.StaffGrant, error)
	UpsertStaff(ctx context.Context, grant domain.StaffGrant) error
	CountCards(ctx context.Context) (int, error)
	InsertCards(ctx context.Context, defs []domain.CardDefinition) error
	CountAccounts(ctx context.Context) (int, error)
	InsertAccount(ctx context.Context, acc domain.Account) error
}

// Options indica owner e cartella dei CSV.
type Options struct {
	OwnerUserID string
	CatalogDir  string
}

// Run popola staff, cards e users solo se la rispettiva collezione e' vuota.
func Run(ctx context.Context, logger *slog.Logger, repo Repository, opts Options) error {
	staff, err := repo.ListStaff(ctx)
	if err != nil {
		return err
	}
	if len(staff) == 0 && opts.OwnerUserID != "" {
		if err := repo.UpsertStaff(ctx, domain.StaffGrant{UserID: opts.OwnerUserID, Role: domain.RoleOwner}); err != nil {
			return err
		}
		logger.Info("owner inserito", "user_id", opts.OwnerUserID)
	}

	cards, err := repo.CountCards(ctx)
	if err != nil {
		return err
	}
	if cards == 0 {
		defs, err := catalog.LoadDir(opts.CatalogDir)
		if err != nil {
			logger.Error("errore lettura csv catalogo", "error", err, "dir", opts.CatalogDir)
			return err
		}
		if err := repo.InsertCards(ctx, defs); err != nil {
			return err
		}
		logger.Info("catalogo inserito", "cards", len(defs))
	}

	accounts, err := repo.CountAccounts(ctx)
	if err != nil {
		return err
	}
	if accounts == 0 {
		epoch := time.Unix(0, 0).UTC()
		if err := repo.InsertAccount(ctx, domain.Account{
			UserID:       SentinelUserID,
			RegisteredAt: epoch,
			LastClaimAt:  epoch,
			Level:        1,
		}); err != nil {
			return err
		}
		logger.Info("utente sentinella inserito", "user_id", SentinelUserID)
	}
	return nil
}
