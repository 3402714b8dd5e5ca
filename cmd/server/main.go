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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/harborchat/harbor/internal/adapters/http"
	"github.com/harborchat/harbor/internal/auth"
	"github.com/harborchat/harbor/internal/config"
	"github.com/harborchat/harbor/internal/domain"
	"github.com/harborchat/harbor/internal/feed"
	"github.com/harborchat/harbor/internal/media"
	"github.com/harborchat/harbor/internal/media/rpcengine"
	"github.com/harborchat/harbor/internal/presence"
	"github.com/harborchat/harbor/internal/session"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/memory"
	"github.com/harborchat/harbor/internal/store/postgres"
)

// feedBotCredential is deliberately not a valid hex public key, so the
// bot identity can never pass the signature handshake.
const feedBotCredential = "system:feed-bot"

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

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	botUser, err := seedFeedBot(ctx, st)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed feed bot")
	}

	challenges := auth.NewChallengeStore(st.Users(), cfg.ChallengeTTL)
	go sweepChallenges(ctx, challenges, cfg.ChallengeTTL)

	manager := session.NewManager(st, challenges, presence.NewRegistry())

	engine, err := rpcengine.Dial(ctx, cfg.MediaEngineAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.MediaEngineAddr).Msg("failed to reach media engine")
	}
	defer engine.Close()
	manager.BindVoice(media.NewCoordinator(engine, manager))

	ledger := feed.NewLedger(st.Reservations())
	source := feed.NewHTTPSource(30 * time.Second)
	poller := feed.NewPoller(st, ledger, source, manager, botUser.ID, cfg.FeedPollInterval)
	go poller.Run(ctx)

	key, err := auth.NewElevationKey(cfg.AdminTokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create elevation key")
	}
	// The key rotates with the process, so the bootstrap token is only
	// good for this run. Operators mint fresh ones by restarting.
	bootstrap, err := key.Mint("local-operator", domain.RoleAdmin)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to mint bootstrap token")
	}
	log.Info().Str("module", "auth").Str("token", bootstrap).Msg("bootstrap admin token")

	r := router.SetupRouter(ctx, cfg, manager, st, key)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("harbor server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage {
	case "postgres":
		return postgres.New(ctx, cfg.PostgresDSN)
	case "memory":
		log.Warn().Msg("memory storage selected, nothing survives a restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// seedFeedBot resolves or creates the bot identity feed messages are
// authored as.
func seedFeedBot(ctx context.Context, st store.Store) (*domain.User, error) {
	user, err := st.Users().GetByCredential(ctx, feedBotCredential)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	user, err = domain.NewUser("feed", feedBotCredential)
	if err != nil {
		return nil, err
	}
	user.Role = domain.RoleBot
	if err := st.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	log.Info().Str("user", string(user.ID)).Msg("feed bot created")
	return user, nil
}

func sweepChallenges(ctx context.Context, s *auth.ChallengeStore, ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Debug().Int("count", n).Msg("swept expired challenges")
			}
		}
	}
}
