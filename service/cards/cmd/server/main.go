package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CardVault/service/cards/internal/access"
	"CardVault/service/cards/internal/account"
	"CardVault/service/cards/internal/bootstrap"
	"CardVault/service/cards/internal/catalog"
	"CardVault/service/cards/internal/channel"
	"CardVault/service/cards/internal/claim"
	"CardVault/service/cards/internal/command"
	"CardVault/service/cards/internal/config"
	"CardVault/service/cards/internal/db"
	"CardVault/service/cards/internal/lock"
	"CardVault/service/cards/internal/memstore"
	"CardVault/service/cards/internal/store"
	"CardVault/service/cards/internal/telemetry"
	"CardVault/service/cards/internal/trade"
	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gopkg.in/natefinch/lumberjack.v2"
)

// backend e' l'unione dei repository richiesti dai componenti di dominio.
type backend interface {
	account.Repository
	claim.Repository
	access.StaffRepository
	catalog.Repository
	bootstrap.Repository
	trade.Repository
}

func main() {
	// Bootstrap di logging e config.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Carica le variabili da .env se presente (solo per dev).
	envPath := os.Getenv("GO_DOTENV_PATH")
	if envPath == "" {
		envPath = ".env"
	}
	if err := godotenv.Overload(envPath); err != nil {
		// Se manca il file .env, continuiamo con le env già presenti.
		logger.Warn("impossibile caricare .env", "path", envPath, "error", err)
	} else {
		logger.Info(".env caricato", "path", envPath)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config non valida", "error", err)
		os.Exit(1)
	}
	logger = newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "cards-svc", cfg.OTELEndpoint)
	if err != nil {
		logger.Error("setup tracing fallito", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush tracing fallito", "error", err)
		}
	}()

	// Store: Postgres in produzione, memoria per sviluppo locale.
	repo, closeStore, err := openStore(ctx, logger, cfg)
	if err != nil {
		logger.Error("store non disponibile", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if err := bootstrap.Run(ctx, logger, repo, bootstrap.Options{OwnerUserID: cfg.OwnerUserID, CatalogDir: cfg.CatalogDir}); err != nil {
		logger.Error("bootstrap fallito", "error", err)
		os.Exit(1)
	}
	cat, err := catalog.Load(ctx, repo)
	if err != nil {
		logger.Error("caricamento catalogo fallito", "error", err)
		os.Exit(1)
	}
	logger.Info("catalogo caricato", "cards", cat.Len())

	engine, err := claim.NewEngine(logger, repo, cat, claim.Options{
		Cooldown: cfg.Claim.Cooldown,
		Weights:  cfg.Claim.Weights(),
	})
	if err != nil {
		logger.Error("motore claim non valido", "error", err)
		os.Exit(1)
	}
	checker, err := access.NewChecker(logger, repo)
	if err != nil {
		logger.Error("access checker non valido", "error", err)
		os.Exit(1)
	}

	locker, closeLocker, err := openLocker(ctx, logger, cfg)
	if err != nil {
		logger.Error("redis non disponibile", "error", err)
		os.Exit(1)
	}
	defer closeLocker()

	provisioner, closeProvisioner, err := openProvisioner(logger, cfg)
	if err != nil {
		logger.Error("discord non disponibile", "error", err)
		os.Exit(1)
	}
	defer closeProvisioner()

	trades := newTradeManager(logger, repo, provisioner, locker, cfg)
	go trades.Run(ctx, cfg.Trade.SweepInterval)

	// Registra CardService, health e reflection.
	server := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	command.RegisterCardServiceServer(server, command.NewServer(logger, command.Deps{
		Accounts: account.NewService(logger, repo, nil),
		Claims:   engine,
		Access:   checker,
		Catalog:  cat,
		Trades:   trades,
	}))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(command.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	// Avvia il listener gRPC.
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Error("grpc listen failed", "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		logger.Info("arresto in corso")
		healthServer.Shutdown()
		server.GracefulStop()
	}()

	logger.Info("cards grpc listening", "addr", cfg.GRPCAddr, "store", cfg.StoreDriver)
	if err := server.Serve(listener); err != nil {
		logger.Error("grpc serve failed", "error", err)
		os.Exit(1)
	}
}

// newLogger scrive su stdout o, con LOG_FILE, su un file a rotazione.
func newLogger(cfg config.Config) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Log.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// openStore sceglie il backend in base a STORE_DRIVER.
func openStore(ctx context.Context, logger *slog.Logger, cfg config.Config) (backend, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("store in memoria: i dati si perdono al riavvio")
		return memstore.New(), func() {}, nil
	}

	database, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		return nil, nil, err
	}
	return store.NewRepo(database), func() { database.Close() }, nil
}

// openLocker usa Redis se configurato, altrimenti lock in-process.
func openLocker(ctx context.Context, logger *slog.Logger, cfg config.Config) (lock.Manager, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("REDIS_ADDR vuoto, lock account locali")
		return lock.NewLocalLock(cfg.Lock.TTL, cfg.Lock.Retries, cfg.Lock.Backoff), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}
	return lock.NewRedisLock(client, cfg.Lock.TTL, cfg.Lock.Retries, cfg.Lock.Backoff), func() { client.Close() }, nil
}

// openProvisioner usa Discord se c'e' un token, altrimenti canali simulati.
func openProvisioner(logger *slog.Logger, cfg config.Config) (trade.Provisioner, func(), error) {
	if cfg.DiscordToken == "" {
		logger.Info("DISCORD_TOKEN vuoto, canali trade simulati")
		return channel.NewLocalProvisioner(), func() {}, nil
	}

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, nil, err
	}
	return channel.NewDiscordProvisioner(session), func() { session.Close() }, nil
}

func newTradeManager(logger *slog.Logger, repo backend, provisioner trade.Provisioner, locker lock.Manager, cfg config.Config) *trade.Manager {
	return trade.NewManager(logger, repo, provisioner, locker, trade.Options{
		CategoryName: cfg.Trade.CategoryName,
		IdleTimeout:  cfg.Trade.IdleTimeout,
	})
}
