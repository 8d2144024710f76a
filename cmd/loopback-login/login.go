package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brizzai/loopback-login/internal/auth/autherr"
	"github.com/brizzai/loopback-login/internal/auth/models"
	"github.com/brizzai/loopback-login/internal/client"
	"github.com/brizzai/loopback-login/internal/config"
	"github.com/brizzai/loopback-login/internal/credentials"
	"github.com/brizzai/loopback-login/internal/logger"
	"github.com/brizzai/loopback-login/internal/login"
	"github.com/brizzai/loopback-login/internal/tui"
)

var (
	noTUI    bool
	username string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through the browser and store the token",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed in user",
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().BoolVar(&noTUI, "no-tui", false, "Print progress instead of showing the login screen")
	loginCmd.Flags().StringVar(&username, "username", "", "Log in with a username instead of a provider")
	loginCmd.Flags().Int("callback-port", 0, "Loopback port registered with the provider")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	interactive := !noTUI && username == ""
	cfg, err := loadConfig(cmd, interactive)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.Client.APIURL, cfg.Client.RequestTimeout, nil)
	providerLogin := func(ctx context.Context, observe func(login.Event)) (*models.ApplicationIdentity, error) {
		o := login.NewOrchestrator(api, login.OptionsFromConfig(cfg.Client), login.WithObserver(observe))
		return o.Login(ctx)
	}
	usernameLogin := func(ctx context.Context, name string) (*models.ApplicationIdentity, error) {
		resp, err := api.Login(ctx, name)
		if err != nil {
			if client.IsStatus(err, http.StatusConflict) {
				return nil, autherr.Wrap(autherr.ErrInvalidRequest, "username %q is taken", name)
			}
			return nil, err
		}
		return &models.ApplicationIdentity{UserID: resp.ID, Username: resp.Username, Token: resp.Token}, nil
	}

	var id *models.ApplicationIdentity
	switch {
	case username != "":
		id, err = usernameLogin(ctx, username)
	case noTUI:
		id, err = plainLogin(ctx, providerLogin)
	default:
		id, err = tui.Run(ctx, tui.Deps{
			API:      api,
			Provider: login.OptionsFromConfig(cfg.Client).Provider,
			Login:    providerLogin,
			Username: usernameLogin,
		})
	}
	if err != nil {
		if errors.Is(err, autherr.ErrAborted) {
			pterm.Warning.Println("Login cancelled")
			return nil
		}
		return errors.New(autherr.Message(err))
	}

	return saveIdentity(cfg, id)
}

// plainLogin runs the flow with a pterm spinner for terminals without a UI
func plainLogin(ctx context.Context, run func(context.Context, func(login.Event)) (*models.ApplicationIdentity, error)) (*models.ApplicationIdentity, error) {
	spinner, err := pterm.DefaultSpinner.Start("Contacting server...")
	if err != nil {
		return nil, err
	}

	id, err := run(ctx, func(ev login.Event) {
		switch ev.Phase {
		case login.PhaseBrowserOpened:
			spinner.UpdateText("Waiting for login in browser...")
			pterm.Info.Printfln("If the browser did not open, visit:\n%s", ev.AuthURL)
		case login.PhaseExchanging:
			spinner.UpdateText("Completing login...")
		}
	})
	if err != nil {
		spinner.Fail(autherr.Message(err))
		return nil, err
	}
	spinner.Success("Logged in")
	return id, nil
}

func saveIdentity(cfg *config.Config, id *models.ApplicationIdentity) error {
	store := credentials.NewFileStore(cfg.Client.CredentialsFile)
	err := store.Save(credentials.Credentials{
		APIURL:   cfg.Client.APIURL,
		UserID:   id.UserID,
		Username: id.Username,
		Token:    id.Token,
	})
	if err != nil {
		return err
	}
	logger.Debug("Stored credentials", zap.String("path", store.Path()))
	pterm.Success.Printfln("Logged in as %s", pterm.LightGreen(id.Username))
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	if err := credentials.NewFileStore(cfg.Client.CredentialsFile).Delete(); err != nil {
		return err
	}
	pterm.Success.Println("Logged out")
	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}

	stored, err := credentials.NewFileStore(cfg.Client.CredentialsFile).Load()
	if errors.Is(err, credentials.ErrNotFound) {
		pterm.Info.Println("Not logged in")
		return nil
	}
	if err != nil {
		return err
	}

	apiURL := stored.APIURL
	if apiURL == "" {
		apiURL = cfg.Client.APIURL
	}
	api := client.New(apiURL, cfg.Client.RequestTimeout, client.NewBearerAuthManager(stored.Token))

	data := pterm.TableData{{"Username", stored.Username}, {"User ID", strconv.FormatInt(stored.UserID, 10)}}
	me, err := api.Me(cmd.Context())
	switch {
	case err == nil:
		data = [][]string{{"Username", me.Username}, {"User ID", strconv.FormatInt(me.ID, 10)}}
		if me.Email != "" {
			data = append(data, []string{"Email", me.Email})
		}
		if me.DisplayName != "" {
			data = append(data, []string{"Name", me.DisplayName})
		}
	case client.IsStatus(err, http.StatusUnauthorized):
		pterm.Warning.Println("Stored token was rejected, run login again")
	default:
		logger.Warn("Could not reach the server", zap.Error(err))
		data = append(data, []string{"Server", fmt.Sprintf("%s (offline)", apiURL)})
	}
	return pterm.DefaultTable.WithData(data).Render()
}
