package catalog

import (
	"context"
	"sort"

	"CardVault/service/cards/internal/domain"
)

// Repository legge le definizioni persistite nella collezione cards.
type Repository interface {
	ListCards(ctx context.Context) ([]domain.CardDefinition, error)
}

// Catalog e' la vista in memoria, immutabile, del catalogo partizionato per rarita'.
type Catalog struct {
	all      []domain.CardDefinition
	byRarity map[domain.Rarity][]domain.CardDefinition
	byID     map[int64]domain.CardDefinition
}

// New costruisce il catalogo ordinando le definizioni per id.
func New(defs []domain.CardDefinition) *Catalog {
	all := append([]domain.CardDefinition(nil), defs...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	c := &Catalog{
		all:      all,
		byRarity: make(map[domain.Rarity][]domain.CardDefinition, len(domain.Rarities)),
		byID:     make(map[int64]domain.CardDefinition, len(all)),
	}
	for _, def := range all {
		c.byRarity[def.Rarity] = append(c.byRarity[def.Rarity], def)
		c.byID[def.ID] = def
	}
	return c
}

// Load legge tutte le definizioni dal repository.
func Load(ctx context.Context, repo Repository) (*Catalog, error) {
	defs, err := repo.ListCards(ctx)
	if err != nil {
		return nil, err
	}
	return New(defs), nil
}

// ByRarity ritorna le definizioni di una rarita' (slice condivisa, da non modificare).
func (c *Catalog) ByRarity(r domain.Rarity) []domain.CardDefinition {
	return c.byRarity[r]
}

// All ritorna tutte le definizioni ordinate per id.
func (c *Catalog) All() []domain.CardDefinition {
	return c.all
}

// Lookup cerca una definizione per id.
func (c *Catalog) Lookup(id int64) (domain.CardDefinition, bool) {
	def, ok := c.byID[id]
	return def, ok
}

// Len e' il numero totale di definizioni.
func (c *Catalog) Len() int {
	return len(c.all)
}
