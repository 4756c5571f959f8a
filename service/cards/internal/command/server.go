package command

import (
	"context"
	"errors"
	"log/slog"

	"CardVault/pkg/grpcx"
	"CardVault/service/cards/internal/access"
	"CardVault/service/cards/internal/account"
	"CardVault/service/cards/internal/catalog"
	"CardVault/service/cards/internal/claim"
	"CardVault/service/cards/internal/domain"
	"CardVault/service/cards/internal/trade"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server espone i comandi del bot via gRPC.
// Qui si leggono le metadata gRPC e si mappano gli errori in codici gRPC.
type Server struct {
	logger   *slog.Logger
	accounts *account.Service
	claims   *claim.Engine
	access   *access.Checker
	catalog  *catalog.Catalog
	trades   *trade.Manager
}

// Deps raccoglie i componenti di dominio usati dai comandi.
type Deps struct {
	Accounts *account.Service
	Claims   *claim.Engine
	Access   *access.Checker
	Catalog  *catalog.Catalog
	Trades   *trade.Manager
}

// NewServer crea il server gRPC con il dominio.
func NewServer(logger *slog.Logger, deps Deps) *Server {
	return &Server{
		logger:   logger,
		accounts: deps.Accounts,
		claims:   deps.Claims,
		access:   deps.Access,
		catalog:  deps.Catalog,
		trades:   deps.Trades,
	}
}

var _ CardService = (*Server)(nil)

// Ping risponde "pong" anche a utenti non registrati.
func (s *Server) Ping(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return respond(map[string]any{"message": "pong"})
}

func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	acc, err := s.accounts.Register(ctx, userID)
	if err != nil {
		return nil, s.toStatus(err, "register")
	}
	return respond(map[string]any{"account": accountFields(acc)})
}

// Profile ritorna account e inventario del chiamante.
func (s *Server) Profile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	profile, err := s.accounts.Profile(ctx, userID)
	if err != nil {
		return nil, s.toStatus(err, "profile")
	}
	inventory := make([]any, 0, len(profile.Inventory))
	for _, card := range profile.Inventory {
		inventory = append(inventory, ownedFields(card))
	}
	return respond(map[string]any{
		"account":   accountFields(profile.Account),
		"inventory": inventory,
	})
}

func (s *Server) Claim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	owned, err := s.claims.Claim(ctx, userID)
	if err != nil {
		return nil, s.toStatus(err, "claim")
	}
	return respond(map[string]any{
		"card":             ownedFields(owned),
		"cooldown_seconds": s.claims.Cooldown().Seconds(),
	})
}

// CheckPerms ritorna il ruolo del chiamante, o di target_id se il chiamante e' moderator.
func (s *Server) CheckPerms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	target := stringField(req, "target_id")
	role, err := s.access.RoleOf(ctx, userID, target)
	if err != nil {
		return nil, s.toStatus(err, "check perms")
	}
	if target == "" {
		target = userID
	}
	return respond(map[string]any{"user_id": target, "role": string(role)})
}

func (s *Server) SetRole(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	target := stringField(req, "target_id")
	role := domain.Role(stringField(req, "role"))
	if err := s.access.SetRole(ctx, userID, target, role); err != nil {
		return nil, s.toStatus(err, "set role")
	}
	return respond(map[string]any{"user_id": target, "role": string(role)})
}

func (s *Server) RevokeRole(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	target := stringField(req, "target_id")
	if err := s.access.Revoke(ctx, userID, target); err != nil {
		return nil, s.toStatus(err, "revoke role")
	}
	return respond(map[string]any{"user_id": target, "role": string(domain.RoleNone)})
}

// ListCards elenca il catalogo (admin).
func (s *Server) ListCards(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.access.Require(ctx, userID, domain.RoleAdmin); err != nil {
		return nil, s.toStatus(err, "list cards")
	}
	all := s.catalog.All()
	cards := make([]any, 0, len(all))
	for _, def := range all {
		cards = append(cards, cardFields(def))
	}
	return respond(map[string]any{"cards": cards})
}

// ListUsers elenca gli account registrati (admin).
func (s *Server) ListUsers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.access.Require(ctx, userID, domain.RoleAdmin); err != nil {
		return nil, s.toStatus(err, "list users")
	}
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, s.toStatus(err, "list users")
	}
	users := make([]any, 0, len(accounts))
	for _, acc := range accounts {
		users = append(users, accountFields(acc))
	}
	return respond(map[string]any{"users": users})
}

// ListStaff elenca i grant staff (admin).
func (s *Server) ListStaff(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	grants, err := s.access.ListStaff(ctx, userID)
	if err != nil {
		return nil, s.toStatus(err, "list staff")
	}
	staff := make([]any, 0, len(grants))
	for _, g := range grants {
		staff = append(staff, map[string]any{"user_id": g.UserID, "role": string(g.Role)})
	}
	return respond(map[string]any{"staff": staff})
}

// StartTrade apre una sessione con target_id nel server guild_id.
func (s *Server) StartTrade(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	guildID := stringField(req, "guild_id")
	if guildID == "" {
		return nil, status.Error(codes.InvalidArgument, "guild_id is required")
	}
	session, err := s.trades.Initiate(ctx, trade.InitiateRequest{
		GuildID:     guildID,
		InitiatorID: userID,
		TargetID:    stringField(req, "target_id"),
	})
	if err != nil {
		return nil, s.toStatus(err, "start trade")
	}
	return respond(map[string]any{"session": sessionFields(session)})
}

func (s *Server) Offer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.withCard(ctx, req, "offer", s.trades.Offer)
}

func (s *Server) Remove(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.withCard(ctx, req, "remove", s.trades.Remove)
}

func (s *Server) Accept(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.withSession(ctx, req, "accept", s.trades.Accept)
}

func (s *Server) Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.withSession(ctx, req, "cancel", s.trades.Cancel)
}

// GetTrade ritorna lo snapshot della sessione; solo le parti possono leggerla.
func (s *Server) GetTrade(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.withSession(ctx, req, "get trade", func(_ context.Context, id uuid.UUID, userID string) (trade.Session, error) {
		session, err := s.trades.Get(id)
		if err != nil {
			return trade.Session{}, err
		}
		if !session.IsParty(userID) {
			return trade.Session{}, domain.ErrNotAParty
		}
		return session, nil
	})
}

type sessionOp func(ctx context.Context, id uuid.UUID, userID string) (trade.Session, error)

type cardOp func(ctx context.Context, id uuid.UUID, userID string, cardID uuid.UUID) (trade.Session, error)

func (s *Server) withSession(ctx context.Context, req *structpb.Struct, op string, fn sessionOp) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, req)
	if err != nil {
		return nil, err
	}
	id, err := s.sessionID(req)
	if err != nil {
		return nil, s.toStatus(err, op)
	}
	session, err := fn(ctx, id, userID)
	if err != nil {
		return nil, s.toStatus(err, op)
	}
	return respond(map[string]any{"session": sessionFields(session)})
}

func (s *Server) withCard(ctx context.Context, req *structpb.Struct, op string, fn cardOp) (*structpb.Struct, error) {
	cardID, err := uuid.Parse(stringField(req, "card_id"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "card_id must be a card copy id")
	}
	return s.withSession(ctx, req, op, func(ctx context.Context, id uuid.UUID, userID string) (trade.Session, error) {
		return fn(ctx, id, userID, cardID)
	})
}

// sessionID accetta session_id o, in alternativa, il canale del trade (channel_id).
func (s *Server) sessionID(req *structpb.Struct) (uuid.UUID, error) {
	if raw := stringField(req, "session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, domain.ErrSessionNotFound
		}
		return id, nil
	}
	if ref := stringField(req, "channel_id"); ref != "" {
		session, err := s.trades.ByChannel(ref)
		if err != nil {
			return uuid.Nil, err
		}
		return session.ID, nil
	}
	return uuid.Nil, domain.ErrSessionNotFound
}

// caller risolve l'utente che invia il comando.
func (s *Server) caller(ctx context.Context, req *structpb.Struct) (string, error) {
	if req == nil {
		return "", status.Error(codes.InvalidArgument, "request is required")
	}
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return "", status.Error(codes.Unauthenticated, err.Error())
	}
	return userID, nil
}

// toStatus mappa la tassonomia di dominio sui codici gRPC.
func (s *Server) toStatus(err error, op string) error {
	var cooldown *domain.CooldownError
	switch {
	case errors.As(err, &cooldown):
		return status.Error(codes.ResourceExhausted, cooldown.Error())
	case errors.Is(err, domain.ErrNotRegistered):
		return status.Error(codes.NotFound, "user not registered")
	case errors.Is(err, domain.ErrSessionNotFound):
		return status.Error(codes.NotFound, "trade session not found")
	case errors.Is(err, domain.ErrAlreadyRegistered):
		return status.Error(codes.AlreadyExists, "user already registered")
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotAParty):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrInvalidPrincipal):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrCardNotOwned), errors.Is(err, domain.ErrCatalogEmpty):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrStaleOffer), errors.Is(err, domain.ErrAccountBusy):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.logger.Error("store non disponibile", "error", err, "op", op)
		return status.Error(codes.Unavailable, "store unavailable")
	default:
		s.logger.Error("errore comando", "error", err, "op", op)
		return status.Error(codes.Internal, "failed to "+op)
	}
}

// userIDFromContext prova prima dalle metadata gRPC, poi dal context locale.
func userIDFromContext(ctx context.Context) (string, error) {
	userID, ok := grpcx.UserID(ctx)
	if !ok {
		return "", errors.New("user_id missing")
	}
	return userID, nil
}
