package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"CardVault/pkg/grpcx"
	"CardVault/service/cards/internal/command"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client di verifica per cards-svc.
// Esempio: cards-check call StartTrade guild_id=1 target_id=43 --user 42
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Carica env per indirizzo e utente.
	envPath := os.Getenv("GO_DOTENV_PATH")
	if envPath == "" {
		envPath = "service/cards/.env"
	}
	if err := godotenv.Overload(envPath); err != nil {
		logger.Warn("impossibile caricare .env", "path", envPath, "error", err)
	}

	var addr, userID string
	var timeout time.Duration

	root := &cobra.Command{Use: "cards-check", Short: "Chiama cards-svc via gRPC", SilenceUsage: true}
	root.PersistentFlags().StringVar(&addr, "addr", envOr("CARDS_GRPC_ADDR", "localhost:50061"), "indirizzo gRPC di cards-svc")
	root.PersistentFlags().StringVar(&userID, "user", os.Getenv("USER_ID"), "user_id inviato nelle metadata")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout della chiamata")

	call := &cobra.Command{
		Use:   "call <Method> [key=value ...]",
		Short: "Invoca un metodo di CardService",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseArgs(args[1:])
			if err != nil {
				return err
			}
			conn, err := dial(addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if userID != "" {
				ctx = grpcx.OutgoingUserID(ctx, userID)
			}

			out := new(structpb.Struct)
			if err := conn.Invoke(ctx, command.FullMethod(args[0]), req, out); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			body, err := protojson.MarshalOptions{Multiline: true}.Marshal(out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Verifica lo stato del servizio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dial(addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: command.ServiceName})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus().String())
			return nil
		},
	}

	root.AddCommand(call, health)
	if err := root.Execute(); err != nil {
		logger.Error("cards-check fallito", "error", err)
		os.Exit(1)
	}
}

func dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseArgs trasforma chiave=valore in una richiesta Struct.
func parseArgs(args []string) (*structpb.Struct, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		fields[key] = value
	}
	return structpb.NewStruct(fields)
}
