package claim

import (
	"fmt"

	"CardVault/service/cards/internal/domain"
)

// Weights sono i pesi interi non negativi delle fasce di rarita'.
type Weights struct {
	Common    int
	Rare      int
	Epic      int
	Legendary int
}

// DefaultWeights: 300/40/5/1.
var DefaultWeights = Weights{Common: 300, Rare: 40, Epic: 5, Legendary: 1}

// ordered ritorna i pesi nell'ordine stabile di domain.Rarities.
func (w Weights) ordered() []int {
	return []int{w.Common, w.Rare, w.Epic, w.Legendary}
}

// Total e' la somma dei pesi.
func (w Weights) Total() int {
	total := 0
	for _, weight := range w.ordered() {
		total += weight
	}
	return total
}

// Validate rifiuta pesi negativi o tutti a zero.
func (w Weights) Validate() error {
	for i, weight := range w.ordered() {
		if weight < 0 {
			return fmt.Errorf("%w: %s weight is negative", domain.ErrInvalidWeights, domain.Rarities[i])
		}
	}
	if w.Total() == 0 {
		return fmt.Errorf("%w: total weight is zero", domain.ErrInvalidWeights)
	}
	return nil
}

// Pick seleziona la fascia per un'estrazione r in [0, Total()).
// Si scorrono le fasce sottraendo il peso: vince la prima per cui il resto diventa negativo,
// cioe' r < peso cumulato. Un r uguale a un confine cumulato appartiene alla fascia SUCCESSIVA
// (es. r=299 -> common, r=300 -> rare). Le fasce con peso zero non vengono mai scelte.
func (w Weights) Pick(r int) (domain.Rarity, error) {
	total := w.Total()
	if r < 0 || r >= total {
		return "", fmt.Errorf("%w: draw %d outside [0,%d)", domain.ErrInvalidWeights, r, total)
	}
	remainder := r
	for i, weight := range w.ordered() {
		remainder -= weight
		if remainder < 0 {
			return domain.Rarities[i], nil
		}
	}
	// Irraggiungibile: r < total garantisce un resto negativo sull'ultima fascia non nulla.
	return "", fmt.Errorf("%w: draw %d not resolved", domain.ErrInvalidWeights, r)
}
