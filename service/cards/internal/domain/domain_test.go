package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Verifica che gli errori tipizzati siano riconosciuti dai sentinel.
func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		err    error
		target error
	}{
		{&CooldownError{Remaining: time.Second}, ErrCooldownActive},
		{&CatalogEmptyError{Rarity: RarityEpic}, ErrCatalogEmpty},
		{&UnauthorizedError{Required: RoleAdmin}, ErrUnauthorized},
		{&StaleOfferError{}, ErrStaleOffer},
		{Unavailable("load account", errors.New("conn reset")), ErrStoreUnavailable},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("wrap: %w", tc.err)
		if !errors.Is(wrapped, tc.target) {
			t.Fatalf("expected %v to match %v", tc.err, tc.target)
		}
	}
}

// Verifica che CooldownError esponga il tempo mancante via errors.As.
func TestCooldownErrorAs(t *testing.T) {
	err := fmt.Errorf("claim: %w", &CooldownError{Remaining: 12 * time.Second})

	var cooldown *CooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownError")
	}
	if cooldown.Remaining != 12*time.Second {
		t.Fatalf("expected 12s, got %s", cooldown.Remaining)
	}
}

// Verifica il messaggio ordinato di StaleOfferError.
func TestStaleOfferErrorMessage(t *testing.T) {
	first := uuid.New()
	second := uuid.New()

	var stale StaleOfferError
	if !stale.Empty() {
		t.Fatalf("expected empty error")
	}
	stale.Add("u2", second)
	stale.Add("u1", first)

	msg := stale.Error()
	if strings.Index(msg, "u1=") > strings.Index(msg, "u2=") {
		t.Fatalf("expected users sorted, got %q", msg)
	}
	if !strings.Contains(msg, first.String()) || !strings.Contains(msg, second.String()) {
		t.Fatalf("expected card ids in message, got %q", msg)
	}
}

func TestParseRarity(t *testing.T) {
	got, err := ParseRarity(" Legendary ")
	if err != nil || got != RarityLegendary {
		t.Fatalf("expected legendary, got %q (%v)", got, err)
	}
	if _, err := ParseRarity("mythic"); err == nil {
		t.Fatalf("expected error for unknown rarity")
	}
}

func TestParseCardType(t *testing.T) {
	got, err := ParseCardType("emotion")
	if err != nil || got != CardTypeEmotion {
		t.Fatalf("expected emotion, got %q (%v)", got, err)
	}
	if _, err := ParseCardType("weapon"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

// Verifica che "none" non sia un ruolo assegnabile.
func TestParseRoleRejectsNone(t *testing.T) {
	if _, err := ParseRole("none"); err == nil {
		t.Fatalf("expected error for none")
	}
	got, err := ParseRole("ADMIN")
	if err != nil || got != RoleAdmin {
		t.Fatalf("expected admin, got %q (%v)", got, err)
	}
}

func TestCardLikeVariants(t *testing.T) {
	red := CardDefinition{ID: 1, Name: "Red", Type: CardTypeColor, Rarity: RarityCommon}
	owned := OwnedCard{ID: uuid.New(), Card: red}

	items := []CardLike{
		owned.Item(),
		AssembledItem{Name: "Prism", CustomName: "My Prism", Rarity: RarityEpic, Parts: []CardDefinition{red}},
		AssembledItem{Name: "Prism", Rarity: RarityEpic},
	}
	want := []string{"Red", "My Prism", "Prism"}
	for i, item := range items {
		if item.Title() != want[i] {
			t.Fatalf("item %d: expected title %q, got %q", i, want[i], item.Title())
		}
	}
	if items[0].ItemRarity() != RarityCommon || items[1].ItemRarity() != RarityEpic {
		t.Fatalf("unexpected rarities")
	}
}

func TestCheckSchemaVersion(t *testing.T) {
	if err := CheckSchemaVersion("account", AccountSchemaVersion); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckSchemaVersion("account", AccountSchemaVersion+1); !errors.Is(err, ErrSchemaVersion) {
		t.Fatalf("expected ErrSchemaVersion, got %v", err)
	}
	if err := CheckSchemaVersion("wallet", 1); !errors.Is(err, ErrSchemaVersion) {
		t.Fatalf("expected ErrSchemaVersion for unknown entity, got %v", err)
	}
}

func TestTradeStatusTerminal(t *testing.T) {
	if TradeOpen.Terminal() {
		t.Fatalf("open must not be terminal")
	}
	if !TradeCommitted.Terminal() || !TradeCancelled.Terminal() {
		t.Fatalf("committed and cancelled must be terminal")
	}
}
