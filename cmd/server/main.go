package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"

	router "github.com/dkeye/squadlink/internal/adapters/http"
	"github.com/dkeye/squadlink/internal/adapters/hms"
	"github.com/dkeye/squadlink/internal/adapters/session"
	signalws "github.com/dkeye/squadlink/internal/adapters/signal"
	"github.com/dkeye/squadlink/internal/adapters/store/redisstore"
	"github.com/dkeye/squadlink/internal/adapters/store/sqlstore"
	"github.com/dkeye/squadlink/internal/app"
	"github.com/dkeye/squadlink/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.Debug() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := sqlstore.Open(sqlstore.Config(cfg.Database))
	if err != nil {
		return err
	}
	store := sqlstore.New(db)

	rdb, stopRedis, err := redisstore.Connect(ctx, redisstore.Config(cfg.Redis))
	if err != nil {
		return err
	}
	defer stopRedis()

	provider := hms.New(hms.Config(cfg.Voice))

	reg := app.NewRegistry()
	dispatch := app.NewDispatcher(reg, app.SimplePolicy{})
	voice := app.NewVoiceManager(store, store, store, redisstore.NewDeduper(rdb), provider, dispatch, cfg.WaitingDedupWindow)
	groups := app.NewGroupManager(store, store, provider, dispatch)
	presence := &app.Presence{Relations: store, Groups: store, Dispatch: dispatch}
	relay := &app.SignalRelay{Relations: store, Dispatch: dispatch}
	gw := app.NewGateway(reg, dispatch, presence, relay, voice)
	gw.CleanupTimeout = cfg.CleanupTimeout

	cookies := cookie.NewStore([]byte(cfg.Secret))
	cookies.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   !cfg.Debug(),
		SameSite: http.SameSiteLaxMode,
	})
	resolver := session.NewResolver(cookies, cfg.SessionName)

	ws := signalws.NewSignalWSController(gw, resolver, signalws.Options{
		ReadLimit:      cfg.ReadLimit,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
		SignalRate:     cfg.SignalRate,
		SignalBurst:    cfg.SignalBurst,
	})

	deps := router.Deps{
		Resolver: resolver,
		Signal:   ws,
		Gateway:  gw,
		Voice:    voice,
		Groups:   groups,
		Notes:    store,
	}
	if cfg.Debug() {
		deps.Seeder = store
	}
	r := router.SetupRouter(ctx, cfg, deps)

	sup := suture.New("squadlink", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn().Str("module", "supervisor").Fields(e.Map()).Msg(e.String())
		},
		Timeout: cfg.ShutdownTimeout,
	})
	sup.Add(app.NewHeartbeat(reg, gw, cfg.PingPeriod, cfg.LivenessTimeout))
	sup.Add(router.NewServer(fmt.Sprintf(":%d", cfg.Port), r, cfg.ShutdownTimeout))

	log.Info().Int("port", cfg.Port).Msg("Squadlink server starting")
	return sup.Serve(ctx)
}
