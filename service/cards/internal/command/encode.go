package command

import (
	"strings"
	"time"

	"CardVault/service/cards/internal/domain"
	"CardVault/service/cards/internal/trade"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// respond converte la mappa in Struct; i valori devono essere tipi JSON.
func respond(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func stringField(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	return strings.TrimSpace(req.GetFields()[key].GetStringValue())
}

func timeField(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func accountFields(acc domain.Account) map[string]any {
	return map[string]any{
		"user_id":       acc.UserID,
		"registered_at": timeField(acc.RegisteredAt),
		"last_claim_at": timeField(acc.LastClaimAt),
		"level":         acc.Level,
		"experience":    acc.Experience,
		"balance":       acc.Balance,
	}
}

func cardFields(def domain.CardDefinition) map[string]any {
	return map[string]any{
		"id":          def.ID,
		"name":        def.Name,
		"type":        string(def.Type),
		"rarity":      string(def.Rarity),
		"description": def.Description,
	}
}

func ownedFields(card domain.OwnedCard) map[string]any {
	return map[string]any{
		"id":          card.ID.String(),
		"title":       card.Item().Title(),
		"card":        cardFields(card.Card),
		"acquired_at": timeField(card.AcquiredAt),
	}
}

func sessionFields(s trade.Session) map[string]any {
	return map[string]any{
		"id":                 s.ID.String(),
		"guild_id":           s.GuildID,
		"channel_id":         s.ChannelRef,
		"initiator_id":       s.InitiatorID,
		"target_id":          s.TargetID,
		"initiator_offer":    idList(s.InitiatorOffer),
		"target_offer":       idList(s.TargetOffer),
		"initiator_accepted": s.InitiatorAccepted,
		"target_accepted":    s.TargetAccepted,
		"status":             string(s.Status),
		"updated_at":         timeField(s.UpdatedAt),
	}
}

func idList(ids []uuid.UUID) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
