package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/ultranesh/edbase/internal/auth"
	"github.com/ultranesh/edbase/internal/config"
	"github.com/ultranesh/edbase/internal/conversation"
	"github.com/ultranesh/edbase/internal/db"
	"github.com/ultranesh/edbase/internal/graph"
	"github.com/ultranesh/edbase/internal/handlers"
	"github.com/ultranesh/edbase/internal/logger"
	"github.com/ultranesh/edbase/internal/mediaproxy"
	"github.com/ultranesh/edbase/internal/message"
	"github.com/ultranesh/edbase/internal/realtime"
	"github.com/ultranesh/edbase/internal/server"
	"github.com/ultranesh/edbase/internal/transcode"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideGraphClient,
			provideRoomTokens,
			realtime.NewHub,
			provideConversationService,
			provideMessageStore,
			providePipeline,
			provideMediaProxy,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServerHandler(handlers.NewSwaggerHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(handlers.NewSendHandler),
			provideServerHandler(handlers.NewConversationHandler),
			provideServerHandler(handlers.NewMediaHandler),
			provideServerHandler(provideRealtimeHandler),
			provideServer,
		),
		fx.Invoke(
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideGraphClient(log *slog.Logger, cfg config.Config) *graph.Client {
	client := graph.NewClient(log, cfg)
	client.SetTranscoder(transcode.New(log, ""))
	return client
}

func provideRoomTokens(cfg config.Config) *auth.RoomTokens {
	return auth.NewRoomTokens(cfg.Auth.JWTSecret, auth.DefaultRoomTokenTTL)
}

func provideConversationService(log *slog.Logger, conn *pgxpool.Pool, graphClient *graph.Client) *conversation.Service {
	return conversation.NewService(log, conn, graphClient)
}

func provideMessageStore(log *slog.Logger, conn *pgxpool.Pool, hub *realtime.Hub) *message.Store {
	return message.NewStore(log, conn, hub)
}

func providePipeline(log *slog.Logger, conversations *conversation.Service, store *message.Store) *message.Pipeline {
	return message.NewPipeline(log, conversations, store)
}

func provideMediaProxy(log *slog.Logger, cfg config.Config, graphClient *graph.Client) *mediaproxy.Service {
	return mediaproxy.NewService(log, graphClient, cfg.Media.AllowedHosts)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, pipeline *message.Pipeline) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, cfg, pipeline)
}

func provideRealtimeHandler(log *slog.Logger, hub *realtime.Hub, tokens *auth.RoomTokens) *handlers.RealtimeHandler {
	return handlers.NewRealtimeHandler(log, hub, tokens)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, srv *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("server stopped", slog.Any("error", err))
				}
			}()
			log.Info("server listening", slog.String("addr", cfg.Server.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// interface assertions, the fx graph hides these until runtime otherwise
var (
	_ message.Notifier            = (*realtime.Hub)(nil)
	_ message.Resolver            = (*conversation.Service)(nil)
	_ conversation.ProfileFetcher = (*graph.Client)(nil)
	_ mediaproxy.URLResolver      = (*graph.Client)(nil)
	_ realtime.RoomTokenVerifier  = (*auth.RoomTokens)(nil)
	_ graph.Transcoder            = (*transcode.FFmpeg)(nil)
)
