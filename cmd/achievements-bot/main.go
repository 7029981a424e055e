package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/access"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/achievements"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/artist"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/auth"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/blob"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/bot"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/config"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/database"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/filter"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/imagegen"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/ledger"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/logging"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/members"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/metrics"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/server"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/telegram"
	"github.com/goccy/go-json"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serviceName = "achievements-bot"

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Telegram bot that hands out achievement stickers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newResetCommand(), newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("telegram-token", "", "Telegram bot token (overrides env)")
	cmd.PersistentFlags().String("bot-name", "", "Telegram bot username")
	cmd.PersistentFlags().String("mode", defaults.GetString("telegram.mode"), "Update delivery (polling, webhook)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL DSN")
	cmd.PersistentFlags().Int("workers", defaults.GetInt("workers.count"), "Concurrent update handlers")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "telegram.token", "telegram-token")
	bindFlag(cmd, "telegram.bot_name", "bot-name")
	bindFlag(cmd, "telegram.mode", "mode")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "workers.count", "workers")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Handle Telegram updates and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newResetCommand() *cobra.Command {
	var chatID int64
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every sticker set of a chat and forget its owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatID == 0 {
				return fmt.Errorf("--chat-id is required")
			}
			return runReset(cmd.Context(), chatID)
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat-id", 0, "Telegram chat id")
	return cmd
}

func newIssueTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "issue-operator-token",
		Short: "Print a bearer token for the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIssueToken(cmd.Context(), subject)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Operator identity recorded in the token")
	return cmd
}

// application holds the wired components shared by every command.
type application struct {
	config     config.AppConfig
	logger     *zap.Logger
	db         *gorm.DB
	redis      *redis.Client
	registry   *prometheus.Registry
	telegram   *telegram.Client
	access     *access.Service
	service    *achievements.Service
	bot        *bot.Bot
	dispatcher *bot.Dispatcher
}

func newApplication(ctx context.Context) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, serviceName)
	if err != nil {
		return nil, err
	}
	app := &application{config: appConfig, logger: logger}
	if err := app.wire(ctx); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (a *application) wire(ctx context.Context) error {
	var err error
	switch a.config.Database.Driver {
	case config.DriverPostgres:
		a.db, err = database.OpenPostgres(a.config.Database.DSN, a.logger)
	default:
		a.db, err = database.OpenSQLite(a.config.Database.Path, a.logger)
	}
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(a.registry)

	a.telegram, err = telegram.NewClient(telegram.Config{
		Token:    a.config.Telegram.Token,
		APIURL:   a.config.Telegram.APIURL,
		Logger:   a.logger,
		Observer: recorder,
	})
	if err != nil {
		return err
	}

	store, err := a.blobStore(ctx)
	if err != nil {
		return err
	}

	var counter access.Counter = access.NewMemoryCounter()
	if a.config.Redis.Address != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.config.Redis.Address,
			Password: a.config.Redis.Password,
			DB:       a.config.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		counter = access.NewRedisCounter(a.redis)
	}
	a.access, err = access.NewService(access.Config{
		Database: a.db,
		Counter:  counter,
		Admins:   a.config.AdminIDs,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	memberService, err := members.NewService(members.ServiceConfig{Database: a.db})
	if err != nil {
		return err
	}

	painter, err := artist.New(artist.Config{Store: store, Logger: a.logger})
	if err != nil {
		return err
	}
	generator, err := a.imageGenerator(painter)
	if err != nil {
		return err
	}

	names, err := stickers.NewNameGenerator(a.config.Telegram.BotName, rand.IntN)
	if err != nil {
		return err
	}
	stickerSets := telegram.NewStickerSets(a.telegram)
	synchronizer, err := stickers.NewSynchronizer(stickers.SynchronizerConfig{
		Remote: stickerSets,
		Names:  names,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	mirror, err := ledger.New(ledger.Config{Database: a.db, Logger: a.logger})
	if err != nil {
		return err
	}
	a.service, err = achievements.NewService(achievements.Config{
		Ledger:       mirror,
		Synchronizer: synchronizer,
		Artist:       painter,
		Generator:    generator,
		Profiles:     telegram.NewProfilePhotos(a.telegram),
		Blobs:        store,
		Remover:      stickerSets,
		Recorder:     recorder,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	messageFilter, err := filter.Load(a.config.Filter.KeyPhrasesPath, a.config.Filter.BannedWordsPath)
	if err != nil {
		return err
	}
	a.bot, err = bot.New(bot.Config{
		Messenger:    a.telegram,
		Achievements: a.service,
		Access:       a.access,
		Members:      memberService,
		Filter:       messageFilter,
		Recorder:     recorder,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}
	a.dispatcher, err = bot.NewDispatcher(bot.DispatcherConfig{
		Handler: a.bot,
		Workers: a.config.Workers,
		Logger:  a.logger,
	})
	return err
}

func (a *application) blobStore(ctx context.Context) (blob.Store, error) {
	if a.config.S3.Endpoint == "" {
		a.logger.Warn("s3.endpoint not set, sticker files are kept in memory")
		return blob.NewMemoryStore(blob.DefaultPrefix), nil
	}
	return blob.NewMinioStore(ctx, blob.MinioConfig{
		Endpoint:  a.config.S3.Endpoint,
		AccessKey: a.config.S3.AccessKey,
		SecretKey: a.config.S3.SecretKey,
		Bucket:    a.config.S3.Bucket,
		Secure:    a.config.S3.Secure,
		Prefix:    blob.DefaultPrefix,
		Logger:    a.logger,
	})
}

func (a *application) imageGenerator(labeler imagegen.Labeler) (imagegen.Generator, error) {
	if a.config.ImageGen.Provider != config.ProviderDeepAI {
		return imagegen.NewLocal(labeler), nil
	}
	translator, err := imagegen.NewGoogleTranslator(a.config.ImageGen.TranslateKey, "", nil)
	if err != nil {
		return nil, err
	}
	painter, err := imagegen.NewDeepAI(a.config.ImageGen.DeepAIToken, "", nil)
	if err != nil {
		return nil, err
	}
	return imagegen.NewPipeline(translator, painter, a.logger), nil
}

func (a *application) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = a.logger.Sync()
}

func (a *application) healthHandler() (healthcheck.Handler, error) {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	sqlDB, err := a.db.DB()
	if err != nil {
		return nil, err
	}
	health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(sqlDB, 2*time.Second))
	if a.redis != nil {
		health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return a.redis.Ping(ctx).Err()
		})
	}
	return health, nil
}

func (a *application) operatorValidator() (server.OperatorTokenValidator, error) {
	if !a.config.OperatorEnabled() {
		return disabledOperatorAPI{}, nil
	}
	return auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: []byte(a.config.Operator.SigningSecret),
		Issuer:        a.config.Operator.Issuer,
		Audience:      a.config.Operator.Audience,
	})
}

// disabledOperatorAPI rejects every token when no signing secret is configured.
type disabledOperatorAPI struct{}

func (disabledOperatorAPI) ValidateToken(string) (auth.OperatorClaims, error) {
	return auth.OperatorClaims{}, auth.ErrInvalidToken
}

func runServe(ctx context.Context) error {
	app, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer app.close()
	logger := app.logger

	health, err := app.healthHandler()
	if err != nil {
		return err
	}
	validator, err := app.operatorValidator()
	if err != nil {
		return err
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Updates:       app.dispatcher,
		Chats:         app.service,
		Owners:        app.access,
		Tokens:        validator,
		WebhookSecret: app.config.Telegram.WebhookSecret,
		Health:        health,
		Metrics:       promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := app.dispatcher.Run(signalCtx); err != nil {
			errCh <- err
		}
	}()

	switch app.config.Telegram.Mode {
	case config.ModeWebhook:
		if err := app.telegram.SetWebhook(signalCtx, app.config.Telegram.WebhookURL, app.config.Telegram.WebhookSecret); err != nil {
			return err
		}
		logger.Info("webhook registered", zap.String("url", app.config.Telegram.WebhookURL))
	default:
		if err := app.telegram.DeleteWebhook(signalCtx); err != nil {
			return err
		}
		go func() {
			logger.Info("polling for updates")
			if err := app.dispatcher.Poll(signalCtx, app.telegram, app.config.Telegram.PollTimeout); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-signalCtx.Done():
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	<-dispatcherDone
	logger.Info("server stopped")
	return runErr
}

func runReset(ctx context.Context, chatID int64) error {
	app, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	report, err := app.service.Reset(ctx, chatID)
	if err != nil {
		return err
	}
	if err := app.access.ReleaseOwner(ctx, chatID); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(payload))
	return nil
}

func runIssueToken(ctx context.Context, subject string) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if !appConfig.OperatorEnabled() {
		return fmt.Errorf("operator.signing_secret is required to issue tokens")
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.Operator.SigningSecret),
		Issuer:        appConfig.Operator.Issuer,
		Audience:      appConfig.Operator.Audience,
		TokenTTL:      appConfig.Operator.TokenTTL,
	})
	if err != nil {
		return err
	}
	token, expiresAt, err := issuer.IssueOperatorToken(ctx, subject)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s\nexpires at %s\n", token, expiresAt.UTC().Format(time.RFC3339))
	return nil
}
