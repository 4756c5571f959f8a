package domain

// CardLike e' la variante chiusa degli oggetti collezionabili.
// Solo SingleCard e AssembledItem la implementano.
type CardLike interface {
	Title() string
	ItemRarity() Rarity
	isCardLike()
}

// SingleCard e' una carta singola del catalogo.
type SingleCard struct {
	Definition CardDefinition
}

func (c SingleCard) Title() string      { return c.Definition.Name }
func (c SingleCard) ItemRarity() Rarity { return c.Definition.Rarity }
func (SingleCard) isCardLike()          {}

// AssembledItem e' un oggetto composto da piu' carte con un nome personalizzato.
type AssembledItem struct {
	ID          int64
	Name        string
	CustomName  string
	Rarity      Rarity
	Description string
	Parts       []CardDefinition
}

// Title preferisce il nome personalizzato quando presente.
func (a AssembledItem) Title() string {
	if a.CustomName != "" {
		return a.CustomName
	}
	return a.Name
}

func (a AssembledItem) ItemRarity() Rarity { return a.Rarity }
func (AssembledItem) isCardLike()          {}
