package trade

import (
	"time"

	"CardVault/service/cards/internal/domain"
	"github.com/google/uuid"
)

// Session e' lo snapshot di una sessione di scambio a due.
// Vive solo in memoria: un riavvio del processo perde le sessioni aperte.
type Session struct {
	ID                uuid.UUID
	GuildID           string
	InitiatorID       string
	TargetID          string
	ChannelRef        string
	InitiatorOffer    []uuid.UUID
	TargetOffer       []uuid.UUID
	InitiatorAccepted bool
	TargetAccepted    bool
	Status            domain.TradeStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsParty indica se userID partecipa alla sessione.
func (s *Session) IsParty(userID string) bool {
	return userID == s.InitiatorID || userID == s.TargetID
}

// offerOf ritorna l'offerta modificabile della parte.
func (s *Session) offerOf(userID string) *[]uuid.UUID {
	if userID == s.InitiatorID {
		return &s.InitiatorOffer
	}
	return &s.TargetOffer
}

// addOffer aggiunge la carta se non e' gia' presente (l'offerta e' un insieme).
func (s *Session) addOffer(userID string, cardID uuid.UUID) {
	offer := s.offerOf(userID)
	for _, id := range *offer {
		if id == cardID {
			return
		}
	}
	*offer = append(*offer, cardID)
}

// removeOffer toglie la carta se presente.
func (s *Session) removeOffer(userID string, cardID uuid.UUID) bool {
	offer := s.offerOf(userID)
	for i, id := range *offer {
		if id == cardID {
			*offer = append((*offer)[:i], (*offer)[i+1:]...)
			return true
		}
	}
	return false
}

// accept imposta il flag della parte e dice se ora hanno accettato entrambi.
func (s *Session) accept(userID string) bool {
	if userID == s.InitiatorID {
		s.InitiatorAccepted = true
	} else {
		s.TargetAccepted = true
	}
	return s.InitiatorAccepted && s.TargetAccepted
}

// resetAcceptance obbliga entrambe le parti a riconfermare.
func (s *Session) resetAcceptance() {
	s.InitiatorAccepted = false
	s.TargetAccepted = false
}

// clone copia lo snapshot per restituirlo fuori dal lock.
func (s *Session) clone() Session {
	out := *s
	out.InitiatorOffer = append([]uuid.UUID(nil), s.InitiatorOffer...)
	out.TargetOffer = append([]uuid.UUID(nil), s.TargetOffer...)
	return out
}

// swap costruisce lo scambio da applicare allo store.
func (s *Session) swap(at time.Time) domain.Swap {
	return domain.Swap{
		InitiatorID:    s.InitiatorID,
		TargetID:       s.TargetID,
		InitiatorCards: append([]uuid.UUID(nil), s.InitiatorOffer...),
		TargetCards:    append([]uuid.UUID(nil), s.TargetOffer...),
		At:             at,
	}
}
