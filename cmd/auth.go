package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/output"
	"github.com/marcus/teer/internal/syncconfig"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage server credentials",
	GroupID: "system",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the API key issued by the betting server",
	Long: `Store the API key and user id issued by the betting server. The user id
is also written to the local session so bets and transactions are filtered
to that user.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		userID, _ := cmd.Flags().GetInt64("user-id")
		serverURL, _ := cmd.Flags().GetString("server")

		if key == "" {
			if !output.IsTerminal() {
				err := errors.New("--key is required")
				output.Error("%v", err)
				return err
			}
			err := huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&key).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("API key required")
					}
					return nil
				}).
				Run()
			if err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				return err
			}
		}

		creds := &syncconfig.AuthCredentials{
			APIKey:    strings.TrimSpace(key),
			UserID:    userID,
			ServerURL: serverURL,
		}
		if err := syncconfig.SaveAuth(creds); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}

		if userID != 0 {
			ctx := cmd.Context()
			a, err := openApp(ctx, appOptions{})
			if err != nil {
				output.Warning("credentials saved but the session was not updated: %v", err)
				return nil
			}
			defer a.Close()
			if err := a.store.SetSessionUser(ctx, userID); err != nil {
				output.Warning("credentials saved but the session was not updated: %v", err)
			}
		}

		output.Success("Logged in to %s", syncconfig.GetServerURL())
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			output.Error("logout: %v", err)
			return err
		}

		ctx := cmd.Context()
		if a, err := openApp(ctx, appOptions{}); err == nil {
			if err := a.store.SetSessionUser(ctx, models.AnonymousUserID); err != nil {
				output.Warning("reset session user: %v", err)
			}
			if err := a.store.Replace(ctx, db.CollectionUsers, nil); err != nil {
				output.Warning("clear cached account: %v", err)
			}
			a.Close()
		}

		fmt.Println("Logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			output.Error("load auth: %v", err)
			return err
		}

		if creds == nil || creds.APIKey == "" {
			fmt.Println("Not logged in.")
			return nil
		}

		keyPrefix := creds.APIKey
		if len(keyPrefix) > 12 {
			keyPrefix = keyPrefix[:12] + "..."
		}

		fmt.Printf("User:   %d\n", creds.UserID)
		fmt.Printf("Server: %s\n", syncconfig.GetServerURL())
		fmt.Printf("Key:    %s\n", keyPrefix)
		return nil
	},
}

func init() {
	authLoginCmd.Flags().String("key", "", "API key")
	authLoginCmd.Flags().Int64("user-id", 0, "Server user id")
	authLoginCmd.Flags().String("server", "", "Server URL to store with the key")
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
