package claim

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"CardVault/service/cards/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Repository espone le letture/scritture atomiche usate dal claim.
type Repository interface {
	GetAccount(ctx context.Context, userID string) (domain.Account, error)
	// GrantClaim aggiunge la carta e imposta lastClaimAt=now in un'unica operazione,
	// solo se lastClaimAt vale ancora prev; altrimenti ritorna domain.ErrClaimConflict.
	GrantClaim(ctx context.Context, userID string, prev, now time.Time, card domain.CardDefinition) (domain.OwnedCard, error)
}

// CardSource fornisce le definizioni per rarita' (implementato da catalog.Catalog).
type CardSource interface {
	ByRarity(r domain.Rarity) []domain.CardDefinition
}

// Source e' la sorgente casuale; *rand.Rand la implementa.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// NewSeededSource crea una sorgente deterministica (test, simulazioni).
func NewSeededSource(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Options raccoglie la configurazione del motore.
type Options struct {
	Cooldown time.Duration
	Weights  Weights
	Source   Source
	Now      func() time.Time
}

// Engine applica cooldown, sorteggio pesato e assegnazione atomica della carta.
type Engine struct {
	logger   *slog.Logger
	repo     Repository
	cards    CardSource
	cooldown time.Duration
	weights  Weights
	now      func() time.Time
	tracer   trace.Tracer

	mu     sync.Mutex
	source Source
}

// NewEngine valida i pesi e collega repository e catalogo.
func NewEngine(logger *slog.Logger, repo Repository, cards CardSource, opts Options) (*Engine, error) {
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}
	if opts.Cooldown <= 0 {
		return nil, errors.New("claim cooldown must be positive")
	}
	if opts.Source == nil {
		opts.Source = globalSource{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		logger:   logger,
		repo:     repo,
		cards:    cards,
		cooldown: opts.Cooldown,
		weights:  opts.Weights,
		now:      opts.Now,
		tracer:   otel.Tracer("CardVault/claim"),
		source:   opts.Source,
	}, nil
}

// Cooldown ritorna la durata configurata.
func (e *Engine) Cooldown() time.Duration {
	return e.cooldown
}

// Claim assegna una carta casuale all'utente se il cooldown e' scaduto.
func (e *Engine) Claim(ctx context.Context, userID string) (domain.OwnedCard, error) {
	ctx, span := e.tracer.Start(ctx, "claim.Claim", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	owned, err := e.claim(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "store unavailable")
		}
		return domain.OwnedCard{}, err
	}
	span.SetAttributes(
		attribute.Int64("card_id", owned.Card.ID),
		attribute.String("rarity", string(owned.Card.Rarity)),
	)
	return owned, nil
}

func (e *Engine) claim(ctx context.Context, userID string) (domain.OwnedCard, error) {
	// 1) Account obbligatorio.
	acc, err := e.repo.GetAccount(ctx, userID)
	if err != nil {
		return domain.OwnedCard{}, err
	}

	// 2) Cooldown.
	now := e.now().UTC()
	if remaining := e.remaining(acc, now); remaining > 0 {
		return domain.OwnedCard{}, &domain.CooldownError{Remaining: remaining}
	}

	// 3) Rarita' e 4) carta.
	card, err := e.draw()
	if err != nil {
		e.logger.Error("sorteggio carta fallito", "error", err, "user_id", userID)
		return domain.OwnedCard{}, err
	}

	// 5) Append + reset cooldown, condizionati su lastClaimAt letto al passo 1.
	owned, err := e.repo.GrantClaim(ctx, userID, acc.LastClaimAt, now, card)
	if errors.Is(err, domain.ErrClaimConflict) {
		return domain.OwnedCard{}, e.conflictCooldown(ctx, userID, now)
	}
	if err != nil {
		e.logger.Error("errore assegnazione carta", "error", err, "user_id", userID)
		return domain.OwnedCard{}, err
	}

	e.logger.Info("carta assegnata", "user_id", userID, "card_id", card.ID, "rarity", card.Rarity, "owned_card_id", owned.ID)
	return owned, nil
}

// remaining calcola il tempo mancante; <= 0 significa claim disponibile.
func (e *Engine) remaining(acc domain.Account, now time.Time) time.Duration {
	return e.cooldown - now.Sub(acc.LastClaimAt)
}

// conflictCooldown rilegge l'account dopo un claim concorrente vinto da un'altra richiesta.
func (e *Engine) conflictCooldown(ctx context.Context, userID string, now time.Time) error {
	e.logger.Warn("claim concorrente rilevato", "user_id", userID)
	acc, err := e.repo.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	remaining := e.remaining(acc, now)
	if remaining < 0 {
		remaining = 0
	}
	return &domain.CooldownError{Remaining: remaining}
}

// draw sceglie rarita' e poi una definizione uniforme in quella rarita'.
func (e *Engine) draw() (domain.CardDefinition, error) {
	rarity, err := e.weights.Pick(e.intN(e.weights.Total()))
	if err != nil {
		return domain.CardDefinition{}, err
	}
	defs := e.cards.ByRarity(rarity)
	if len(defs) == 0 {
		return domain.CardDefinition{}, &domain.CatalogEmptyError{Rarity: rarity}
	}
	return defs[e.intN(len(defs))], nil
}

// DrawRarity espone il solo sorteggio della fascia (simulazioni e statistiche).
func (e *Engine) DrawRarity() (domain.Rarity, error) {
	return e.weights.Pick(e.intN(e.weights.Total()))
}

func (e *Engine) intN(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source.IntN(n)
}
