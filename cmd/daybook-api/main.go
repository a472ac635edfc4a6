package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quayside/daybook/internal/appointments"
	"github.com/quayside/daybook/internal/auth"
	"github.com/quayside/daybook/internal/config"
	"github.com/quayside/daybook/internal/database"
	"github.com/quayside/daybook/internal/identity"
	"github.com/quayside/daybook/internal/logging"
	"github.com/quayside/daybook/internal/server"
	"github.com/quayside/daybook/internal/tasks"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "daybook-api",
		Short: "Daybook task and booking service",
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
	cmd.PersistentFlags().String("idp-issuer", defaults.GetString("idp.issuer"), "Identity provider issuer")
	cmd.PersistentFlags().String("idp-audience", defaults.GetString("idp.audience"), "Identity provider client ID")
	cmd.PersistentFlags().String("idp-jwks-url", defaults.GetString("idp.jwks_url"), "Identity provider JWKS URL")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().StringSlice("admin-subjects", defaults.GetStringSlice("admin.subjects"), "Subjects granted the admin role")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "idp.issuer", "idp-issuer")
	bindFlag(cmd, "idp.audience", "idp-audience")
	bindFlag(cmd, "idp.jwks_url", "idp-jwks-url")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "admin.subjects", "admin-subjects")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.SessionIssuer,
		Audience:      appConfig.SessionAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	identityVerifier, err := auth.NewIdentityVerifier(auth.IdentityVerifierConfig{
		Audience:       appConfig.IDPAudience,
		JWKSURL:        appConfig.IDPJWKSURL,
		AllowedIssuers: []string{appConfig.IDPIssuer},
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	accountsService, err := identity.NewService(identity.ServiceConfig{
		Database:      db,
		AdminSubjects: appConfig.AdminSubjects,
	})
	if err != nil {
		return err
	}

	tasksService, err := tasks.NewService(tasks.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	appointmentsService, err := appointments.NewService(appointments.ServiceConfig{
		Database:   db,
		IDProvider: appointments.NewUUIDProvider(),
		Policy: appointments.BookingPolicy{
			Buffer:    appConfig.BookingBuffer,
			SlotWidth: appConfig.BookingSlotWidth,
			DayStart:  appConfig.BookingDayStart,
			DayEnd:    appConfig.BookingDayEnd,
			Location:  appConfig.BookingLocation,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		IdentityVerifier:    identityVerifier,
		TokenManager:        tokenManager,
		AccountsService:     accountsService,
		TasksService:        tasksService,
		AppointmentsService: appointmentsService,
		Realtime:            server.NewRealtimeDispatcher(),
		Logger:              logger,
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
