// Package commands defines the Cobra commands of the pdfchat binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/pdf-chat-backend/internal/config"
	"github.com/tbourn/pdf-chat-backend/internal/observability"
	"github.com/tbourn/pdf-chat-backend/internal/sysutil"
)

// Version is stamped at build time with -ldflags "-X ...commands.Version=...".
var Version = "dev"

// NewRootCmd constructs the root command. Configuration is resolved once in
// PersistentPreRunE: .env first, then the optional YAML file, then the
// process environment, which always wins.
func NewRootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
		cfg        config.Config
	)

	root := &cobra.Command{
		Use:   "pdfchat",
		Short: "PDF ingestion and question answering backend",
		Long: `pdfchat stores uploaded PDFs, extracts and indexes their text, and
answers questions about a document from its most relevant passages.

Settings come from environment variables, optionally seeded from a .env
file and a flat YAML file passed with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is normal outside development.
			_ = godotenv.Load(envFile)
			if err := config.LoadFile(configPath); err != nil {
				return err
			}
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, observability.TraceHook{})
			log.Debug().Str("command", cmd.Name()).Str("config_file", configPath).Msg("configuration loaded")
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML file of settings")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file")

	get := func() config.Config { return cfg }
	root.AddCommand(
		newServeCmd(get),
		newMigrateCmd(get),
		newIngestCmd(get),
		newTokenCmd(get),
		newVersionCmd(),
	)
	return root
}
