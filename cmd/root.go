package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rotations/internal/config"
	"rotations/internal/logger"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configPath string

	rootCmd = &cobra.Command{
		Use:   "rotations",
		Short: "Rotate X11 screens from the system tray",
		Long: `Rotations shows every X screen's orientation in a system tray menu and
applies the one you pick through the RandR extension. Changes made by other
tools are reflected in the menu as they happen.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTray()
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file (default searches $XDG_CONFIG_HOME/rotations, ~/.config/rotations, .)")
	flags.StringP("display", "d", "", "X display to connect to (default $DISPLAY)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")

	viper.BindPFlag("display.name", flags.Lookup("display"))
	viper.BindPFlag("logging.log_level", flags.Lookup("log-level"))
}

func setup(cmd *cobra.Command, args []string) error {
	config.SetConfigPath(configPath)
	if err := config.Init(); err != nil {
		return err
	}
	if level := config.Get().Logging.LogLevel; level != "" {
		if err := logger.SetLevel(level); err != nil {
			return err
		}
	}
	if file := config.ConfigFile(); file != "" {
		logger.Debug("loaded config", "file", file)
	}
	return nil
}
