package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quayside/daybook/internal/client"
	"github.com/quayside/daybook/internal/config"
	"github.com/quayside/daybook/internal/credentials"
	"github.com/quayside/daybook/internal/logging"
)

const sessionTokenKey = "session-token"

var (
	cfgFile string
	logger  *zap.Logger

	errNotLoggedIn = errors.New(`not logged in; run "daybook login" first`)
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "daybook",
		Short:        "Daybook command-line client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(); err != nil {
				return err
			}
			built, err := logging.NewCLILogger()
			if err != nil {
				return err
			}
			logger = built
			return nil
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newWhoamiCommand(),
		newListCommand(),
		newAddCommand(),
		newToggleCommand(),
		newEditCommand(),
		newRemoveCommand(),
		newMoveCommand(),
		newExportCommand(),
		newImportCommand(),
		newWatchCommand(),
		newBookCommand(),
		newSlotsCommand(),
		newAppointmentsCommand(),
		newRescheduleCommand(),
		newStatusCommand(),
		newCancelCommand(),
		newNoteCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("server-url", defaults.GetString("server.url"), "Daybook API base URL")
	cmd.PersistentFlags().String("keyring-service", defaults.GetString("keyring.service"), "Keyring service holding the session token")

	bindFlag(cmd, "server.url", "server-url")
	bindFlag(cmd, "keyring.service", "keyring-service")
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

func clientConfig() (config.ClientConfig, error) {
	return config.LoadClient(viper.GetViper())
}

// anonymousClient builds an API client without a session token. Only the
// login command uses it.
func anonymousClient() (*client.Client, config.ClientConfig, error) {
	cfg, err := clientConfig()
	if err != nil {
		return nil, config.ClientConfig{}, err
	}
	apiClient, err := client.New(client.Config{BaseURL: cfg.ServerURL, Logger: logger})
	if err != nil {
		return nil, config.ClientConfig{}, err
	}
	return apiClient, cfg, nil
}

// sessionClient builds an API client carrying the stored session token.
func sessionClient() (*client.Client, error) {
	cfg, err := clientConfig()
	if err != nil {
		return nil, err
	}
	token, err := credentials.NewStore(cfg.KeyringService).Get(sessionTokenKey)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil, errNotLoggedIn
	}
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{BaseURL: cfg.ServerURL, Token: token, Logger: logger})
}

func loadedTaskList(ctx context.Context, apiClient *client.Client) (*client.TaskList, error) {
	list := client.NewTaskList(apiClient, logger)
	if err := list.Load(ctx); err != nil {
		return nil, err
	}
	return list, nil
}

func parseTaskID(value string) (int64, error) {
	taskID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", value)
	}
	return taskID, nil
}

// parseListIndex reads a 1-based position as printed by "daybook list" and
// returns the 0-based view index.
func parseListIndex(value string) (int, error) {
	index, err := strconv.Atoi(value)
	if err != nil || index < 1 {
		return 0, fmt.Errorf("invalid list position %q", value)
	}
	return index - 1, nil
}
