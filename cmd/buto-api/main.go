package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buto-labs/buto-backend/internal/ai"
	"github.com/buto-labs/buto-backend/internal/auth"
	"github.com/buto-labs/buto-backend/internal/bookmarks"
	"github.com/buto-labs/buto-backend/internal/config"
	"github.com/buto-labs/buto-backend/internal/database"
	"github.com/buto-labs/buto-backend/internal/logging"
	"github.com/buto-labs/buto-backend/internal/messages"
	"github.com/buto-labs/buto-backend/internal/projects"
	"github.com/buto-labs/buto-backend/internal/realtime"
	"github.com/buto-labs/buto-backend/internal/server"
	"github.com/buto-labs/buto-backend/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "buto-api",
		Short: "Buto collaborative workspace backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("redis.addr"), "Redis address")
	cmd.PersistentFlags().String("redis-password", "", "Redis password (overrides env)")
	cmd.PersistentFlags().String("ai-endpoint", defaults.GetString("ai.endpoint"), "Completion API base URL")
	cmd.PersistentFlags().String("ai-api-key", "", "Completion API key (overrides env)")
	cmd.PersistentFlags().String("ai-model", defaults.GetString("ai.model"), "Completion model name")
	cmd.PersistentFlags().Int("ai-max-attempts", defaults.GetInt("ai.max_attempts"), "Completion attempts before degrading")
	cmd.PersistentFlags().Int("ai-retry-base-ms", defaults.GetInt("ai.retry_base_ms"), "Base completion retry delay in milliseconds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.addr", "redis-addr")
	bindFlag(cmd, "redis.password", "redis-password")
	bindFlag(cmd, "ai.endpoint", "ai-endpoint")
	bindFlag(cmd, "ai.api_key", "ai-api-key")
	bindFlag(cmd, "ai.model", "ai-model")
	bindFlag(cmd, "ai.max_attempts", "ai-max-attempts")
	bindFlag(cmd, "ai.retry_base_ms", "ai-retry-base-ms")
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     appConfig.RedisAddr,
		Password: appConfig.RedisPassword,
	})
	defer redisClient.Close()

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})
	revoker := auth.NewRedisTokenRevoker(redisClient)

	otpStore, err := auth.NewOTPStore(auth.OTPStoreConfig{
		Client: redisClient,
		Sender: auth.LogCodeSender{Logger: logging.Named(logger, "otp")},
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	projectService, err := projects.NewService(projects.ServiceConfig{
		Database: db,
		Users:    userService,
		Logger:   logging.Named(logger, "projects"),
	})
	if err != nil {
		return err
	}

	messageService, err := messages.NewService(messages.ServiceConfig{
		Database: db,
		Logger:   logging.Named(logger, "messages"),
	})
	if err != nil {
		return err
	}

	bookmarkService, err := bookmarks.NewService(bookmarks.ServiceConfig{
		Database: db,
		Messages: messageService,
	})
	if err != nil {
		return err
	}

	completionClient, err := ai.NewClient(ai.ClientConfig{
		Endpoint: appConfig.AIEndpoint,
		APIKey:   appConfig.AIAPIKey,
		Model:    appConfig.AIModel,
	}, logging.Named(logger, "ai"))
	if err != nil {
		return err
	}

	generator, err := ai.NewGenerator(ai.GeneratorConfig{
		Completer:   completionClient,
		MaxAttempts: appConfig.AIMaxAttempts,
		RetryBase:   appConfig.AIRetryBase,
		Logger:      logging.Named(logger, "ai"),
	})
	if err != nil {
		return err
	}

	realtimeHandler, err := realtime.NewHandler(realtime.HandlerConfig{
		Gate:      realtime.NewGate(projectService, tokenIssuer, revoker),
		Hub:       realtime.NewHub(),
		Generator: generator,
		Messages:  messageService,
		Logger:    logging.Named(logger, "realtime"),
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:    tokenIssuer,
		Revoker:   revoker,
		OTP:       otpStore,
		Users:     userService,
		Projects:  projectService,
		Messages:  messageService,
		Bookmarks: bookmarkService,
		Realtime:  realtimeHandler,
		Logger:    logging.Named(logger, "http"),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
