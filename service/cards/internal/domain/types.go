package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Modelli condivisi tra claim, trade, access e persistence.
// Non contengono dettagli di DB o gRPC.

// Rarity e' la fascia di rarita' di una carta.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Rarities elenca le fasce nell'ordine stabile usato dal sorteggio.
var Rarities = []Rarity{RarityCommon, RarityRare, RarityEpic, RarityLegendary}

// ParseRarity valida una rarita' letta da CSV, DB o richiesta.
func ParseRarity(value string) (Rarity, error) {
	r := Rarity(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Rarities {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid rarity %q", value)
}

// CardType e' l'enum chiuso dei tipi di carta.
type CardType string

const (
	CardTypeColor   CardType = "color"
	CardTypeShape   CardType = "shape"
	CardTypeElement CardType = "element"
	CardTypeEmotion CardType = "emotion"
	CardTypeNumber  CardType = "number"
	CardTypeBorder  CardType = "border"
)

var cardTypes = []CardType{CardTypeColor, CardTypeShape, CardTypeElement, CardTypeEmotion, CardTypeNumber, CardTypeBorder}

// ParseCardType valida un tipo di carta.
func ParseCardType(value string) (CardType, error) {
	t := CardType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range cardTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid card type %q", value)
}

// CardDefinition e' una voce immutabile del catalogo.
type CardDefinition struct {
	ID          int64
	Name        string
	Type        CardType
	Rarity      Rarity
	Description string
}

// Role e' il livello di permesso di un principal.
type Role string

const (
	RoleNone      Role = "none"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
	RoleOwner     Role = "owner"
)

// ParseRole accetta solo i ruoli assegnabili tramite StaffGrant.
func ParseRole(value string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(value))); r {
	case RoleOwner, RoleAdmin, RoleModerator:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role %q", value)
	}
}

// StaffGrant associa un ruolo a un utente (al massimo uno per utente).
type StaffGrant struct {
	UserID string
	Role   Role
}

// Account e' il profilo persistente di un utente registrato.
type Account struct {
	UserID       string
	RegisteredAt time.Time
	LastClaimAt  time.Time
	Level        int
	Experience   int64
	Balance      int64
}

// OwnedCard e' una copia di carta nell'inventario di un utente.
// ID identifica la copia, non la definizione: due copie della stessa carta hanno ID diversi.
type OwnedCard struct {
	ID         uuid.UUID
	OwnerID    string
	Card       CardDefinition
	AcquiredAt time.Time
}

// Item ritorna la copia come variante CardLike.
func (c OwnedCard) Item() CardLike {
	return SingleCard{Definition: c.Card}
}

// Profile raccoglie account e inventario ordinato.
type Profile struct {
	Account   Account
	Inventory []OwnedCard
}

// TradeStatus e' lo stato di una sessione di scambio.
type TradeStatus string

const (
	TradeOpen      TradeStatus = "open"
	TradeCommitted TradeStatus = "committed"
	TradeCancelled TradeStatus = "cancelled"
)

// Terminal indica se lo stato non ammette altre transizioni.
func (s TradeStatus) Terminal() bool {
	return s == TradeCommitted || s == TradeCancelled
}

// Swap descrive lo scambio atomico da applicare allo store al commit.
type Swap struct {
	InitiatorID    string
	TargetID       string
	InitiatorCards []uuid.UUID
	TargetCards    []uuid.UUID
	At             time.Time
}
