package channel

import (
	"github.com/google/uuid"
)

// Request descrive il canale privato di una sessione di scambio.
type Request struct {
	GuildID    string
	CategoryID string
	Name       string
	Members    []string
}

// StaleNotice indica, per utente, le carte offerte non piu' disponibili.
type StaleNotice struct {
	SessionID uuid.UUID
	Missing   map[string][]uuid.UUID
}
