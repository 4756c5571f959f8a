package command

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName e' il nome gRPC completo del servizio comandi.
const ServiceName = "cardvault.cards.v1.CardService"

// CardService e' il contratto dei comandi esposti via gRPC.
// Richieste e risposte sono google.protobuf.Struct: il chiamante e' un bot di chat
// che inoltra argomenti testuali.
type CardService interface {
	Ping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Profile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Claim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CheckPerms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SetRole(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RevokeRole(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListCards(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListUsers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListStaff(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StartTrade(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Offer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Remove(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Accept(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetTrade(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type method func(CardService, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unary adatta un metodo di CardService al formato dei handler generati da protoc.
func unary(name string, call method) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(CardService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FullMethod ritorna il path gRPC del metodo, usato anche dal client.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ServiceDesc descrive CardService per grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CardService)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", CardService.Ping),
		unary("Register", CardService.Register),
		unary("Profile", CardService.Profile),
		unary("Claim", CardService.Claim),
		unary("CheckPerms", CardService.CheckPerms),
		unary("SetRole", CardService.SetRole),
		unary("RevokeRole", CardService.RevokeRole),
		unary("ListCards", CardService.ListCards),
		unary("ListUsers", CardService.ListUsers),
		unary("ListStaff", CardService.ListStaff),
		unary("StartTrade", CardService.StartTrade),
		unary("Offer", CardService.Offer),
		unary("Remove", CardService.Remove),
		unary("Accept", CardService.Accept),
		unary("Cancel", CardService.Cancel),
		unary("GetTrade", CardService.GetTrade),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cardvault/cards/v1/cards.proto",
}

// RegisterCardServiceServer registra l'implementazione sul server gRPC.
func RegisterCardServiceServer(s grpc.ServiceRegistrar, srv CardService) {
	s.RegisterService(&ServiceDesc, srv)
}
