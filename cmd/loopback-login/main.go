package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/brizzai/loopback-login/internal/config"
	"github.com/brizzai/loopback-login/internal/logger"
)

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "loopback-login",
	Short: "Browser based OAuth login for terminal applications",
	Long: `loopback-login runs the login API server and the terminal client that signs in
through the system browser. The provider redirects back to a one-shot listener
on localhost, and the server trades the code for an application token.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	// Place version check in PreRun to ensure flags are parsed first
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}
	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	}

	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (default ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("api-url", "", "Base URL of the login API server")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(serveCmd, loginCmd, logoutCmd, whoamiCmd)
}

// loadConfig reads the configuration for cmd and installs the global logger
func loadConfig(cmd *cobra.Command, quiet bool) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if quiet && cfg.Logging.OutputPath == "" {
		// the terminal UI owns the screen
		cfg.Logging.DisableConsole = true
	}
	if err := logger.InitLogger(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}
