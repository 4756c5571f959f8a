package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"CardVault/service/cards/internal/domain"
)

// File di bootstrap per rarita', letti in questo ordine.
var bootstrapFiles = []struct {
	file   string
	rarity domain.Rarity
}{
	{"cardslist_bootstrap_commons.csv", domain.RarityCommon},
	{"cardslist_bootstrap_rares.csv", domain.RarityRare},
	{"cardslist_bootstrap_epics.csv", domain.RarityEpic},
	{"cardslist_bootstrap_legendaries.csv", domain.RarityLegendary},
}

// LoadDir legge i quattro CSV (name,type,description con header) da dir.
// Gli id sono densi e sequenziali a partire da 0 nell'ordine dei file.
func LoadDir(dir string) ([]domain.CardDefinition, error) {
	var defs []domain.CardDefinition
	var nextID int64
	for _, bf := range bootstrapFiles {
		f, err := os.Open(filepath.Join(dir, bf.file))
		if err != nil {
			return nil, err
		}
		parsed, err := ParseCSV(f, bf.rarity, nextID)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", bf.file, err)
		}
		nextID += int64(len(parsed))
		defs = append(defs, parsed...)
	}
	return defs, nil
}

// ParseCSV legge un file di una singola rarita' assegnando id da firstID.
func ParseCSV(r io.Reader, rarity domain.Rarity, firstID int64) ([]domain.CardDefinition, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	// La prima riga e' l'header.
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	var defs []domain.CardDefinition
	id := firstID
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("line %d: expected name,type,description", line)
		}
		cardType, err := domain.ParseCardType(record[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		defs = append(defs, domain.CardDefinition{
			ID:          id,
			Name:        strings.TrimSpace(record[0]),
			Type:        cardType,
			Rarity:      rarity,
			Description: strings.TrimSpace(record[2]),
		})
		id++
	}
	return defs, nil
}
