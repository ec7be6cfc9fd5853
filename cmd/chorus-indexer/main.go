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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/challenges"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/config"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/database"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/entitymanager"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/indexer"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/server"
	"github.com/MarcoPoloResearchLab/chorus/backend/internal/signatures"
)

const (
	shutdownTimeout = 10 * time.Second
	peerTimeout     = 5 * time.Second
	peerCacheSize   = 4096
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chorus-indexer",
		Short: "Entity manager replay indexer",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newRevertCommand(), newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Ingest token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Ingest token TTL in minutes")
	cmd.PersistentFlags().StringSlice("peers", nil, "Peer indexer base URLs for failure consensus")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "indexer.peers", "peers")
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
		Short: "Accept blocks over HTTP and replay them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newRevertCommand() *cobra.Command {
	var blockNumber int64
	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Revert the latest committed block",
		RunE: func(cmd *cobra.Command, args []string) error {
			if blockNumber <= 0 {
				return fmt.Errorf("--block must be positive")
			}
			return runRevert(cmd.Context(), blockNumber)
		},
	}
	cmd.Flags().Int64Var(&blockNumber, "block", 0, "Block number to revert")
	return cmd
}

func newIssueTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print an ingest token for a block submitter",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.Issue(subject)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in=%d\n", token, expiresIn)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject identifying the submitter")
	return cmd
}

type indexerRuntime struct {
	config    config.AppConfig
	logger    *zap.Logger
	db        *gorm.DB
	processor *indexer.Processor
	escalator *indexer.Escalation
	realtime  *server.RealtimeDispatcher
}

func newRuntime() (*indexerRuntime, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	cleanup := func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}

	engine, err := entitymanager.NewEngine(entitymanager.Options{
		Config:    appConfig.EngineConfig(),
		Recoverer: signatures.NewRecoverer(),
		Logger:    logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	bus, err := challenges.NewBus(challenges.NewStoreSink(db, time.Now), logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var peerClient indexer.PeerClient
	if len(appConfig.Peers) > 0 {
		client, err := indexer.NewHTTPPeerClient(peerTimeout, peerCacheSize)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		peerClient = client
	}
	escalation, err := indexer.NewEscalation(indexer.EscalationConfig{
		Database:   db,
		Peers:      appConfig.Peers,
		Client:     peerClient,
		Quorum:     appConfig.PeerQuorum,
		MaxSkipped: appConfig.MaxSkipped,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	realtime := server.NewRealtimeDispatcher()
	processor, err := indexer.NewProcessor(indexer.ProcessorConfig{
		Database:      db,
		Engine:        engine,
		Bus:           bus,
		Escalation:    escalation,
		Publisher:     realtime,
		DecodeWorkers: appConfig.DecodeWorkers,
		Logger:        logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return &indexerRuntime{
		config:    appConfig,
		logger:    logger,
		db:        db,
		processor: processor,
		escalator: escalation,
		realtime:  realtime,
	}, cleanup, nil
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      appConfig.Audience,
		TokenTTL:      appConfig.TokenTTL,
	})
}

func runServer(ctx context.Context) error {
	rt, cleanup, err := newRuntime()
	if err != nil {
		return err
	}
	defer cleanup()

	tokenIssuer, err := newTokenIssuer(rt.config)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator: tokenIssuer,
		Processor:      rt.processor,
		Errors:         rt.escalator,
		Realtime:       rt.realtime,
		Logger:         rt.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    rt.config.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("server starting", zap.String("address", rt.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runRevert(ctx context.Context, blockNumber int64) error {
	rt, cleanup, err := newRuntime()
	if err != nil {
		return err
	}
	defer cleanup()
	return rt.processor.RevertBlock(ctx, blockNumber)
}
