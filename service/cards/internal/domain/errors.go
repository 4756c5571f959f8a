package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Errori di dominio usati da engine/session e mappati nel layer gRPC.
var (
	ErrNotRegistered     = errors.New("user not registered")
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrCooldownActive    = errors.New("claim cooldown active")
	ErrCatalogEmpty      = errors.New("catalog empty for rarity")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidPrincipal  = errors.New("invalid principal")
	ErrSessionNotFound   = errors.New("trade session not found")
	ErrNotAParty         = errors.New("not a party of the trade session")
	ErrInvalidState      = errors.New("invalid trade session state")
	ErrStaleOffer        = errors.New("offered cards no longer available")
	ErrCardNotOwned      = errors.New("card not in inventory")
	ErrAccountBusy       = errors.New("account busy")
	ErrInvalidWeights    = errors.New("invalid claim weights")
	ErrSchemaVersion     = errors.New("unsupported schema version")
)

// ErrClaimConflict segnala che lastClaimAt e' cambiato tra lettura e scrittura
// (claim concorrente dello stesso utente). Non arriva mai al chiamante finale.
var ErrClaimConflict = errors.New("claim raced by concurrent claim")

// ErrStoreUnavailable e' l'unico errore infrastrutturale: gli errori del DB vengono avvolti qui.
var ErrStoreUnavailable = errors.New("store unavailable")

// Unavailable avvolge un errore del driver dentro ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// CooldownError riporta il tempo mancante al prossimo claim.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("claim cooldown active, remaining %s", e.Remaining.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool { return target == ErrCooldownActive }

// CatalogEmptyError indica una rarita' senza definizioni.
type CatalogEmptyError struct {
	Rarity Rarity
}

func (e *CatalogEmptyError) Error() string {
	return fmt.Sprintf("catalog empty for rarity %s", e.Rarity)
}

func (e *CatalogEmptyError) Is(target error) bool { return target == ErrCatalogEmpty }

// UnauthorizedError riporta il ruolo richiesto.
type UnauthorizedError struct {
	Required Role
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s role required", e.Required)
}

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// StaleOfferError elenca, per utente, le carte offerte che non sono piu' in inventario.
type StaleOfferError struct {
	Missing map[string][]uuid.UUID
}

func (e *StaleOfferError) Error() string {
	users := make([]string, 0, len(e.Missing))
	for userID := range e.Missing {
		users = append(users, userID)
	}
	sort.Strings(users)

	parts := make([]string, 0, len(users))
	for _, userID := range users {
		ids := make([]string, 0, len(e.Missing[userID]))
		for _, id := range e.Missing[userID] {
			ids = append(ids, id.String())
		}
		parts = append(parts, userID+"=["+strings.Join(ids, ",")+"]")
	}
	return "offered cards no longer available: " + strings.Join(parts, " ")
}

func (e *StaleOfferError) Is(target error) bool { return target == ErrStaleOffer }

// Add registra una carta mancante per l'utente.
func (e *StaleOfferError) Add(userID string, cardID uuid.UUID) {
	if e.Missing == nil {
		e.Missing = make(map[string][]uuid.UUID)
	}
	e.Missing[userID] = append(e.Missing[userID], cardID)
}

// Empty indica che nessuna carta manca.
func (e *StaleOfferError) Empty() bool {
	return len(e.Missing) == 0
}
