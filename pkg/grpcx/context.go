package grpcx

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Chiavi condivise per passare l'identita' dell'utente chat tra bot e servizi gRPC.
type contextKey string

// ContextUserIDKey definisce la chiave per il context locale (non gRPC).
const ContextUserIDKey contextKey = "user_id"

// UserIDMetadataKey definisce la chiave metadata per l'user_id su gRPC.
const UserIDMetadataKey = "user_id"

// WithUserID salva l'utente nel context locale (test e chiamate in-process).
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ContextUserIDKey, userID)
}

// OutgoingUserID aggiunge l'utente alle metadata di una chiamata client.
func OutgoingUserID(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, UserIDMetadataKey, userID)
}

// UserID legge l'utente prima dalle metadata in ingresso, poi dal context locale.
func UserID(ctx context.Context) (string, bool) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(UserIDMetadataKey); len(values) > 0 {
			if userID := strings.TrimSpace(values[0]); userID != "" {
				return userID, true
			}
		}
	}
	userID, ok := ctx.Value(ContextUserIDKey).(string)
	if !ok || strings.TrimSpace(userID) == "" {
		return "", false
	}
	return strings.TrimSpace(userID), true
}
