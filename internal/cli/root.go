package cli

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alnah/go-fabric-analyze/internal/config"
	"github.com/alnah/go-fabric-analyze/internal/logging"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
}

// RootCmd creates the root command with every subcommand attached.
func RootCmd(env *Env, version string) *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "fabric-analyze",
		Short: "Analyze long transcripts with fabric patterns",
		Long: `Analyze long transcripts with fabric patterns.

The transcript is summarized once to build a global context, split into
overlapping chunks that fit the provider limits, and each chunk is sent to
every requested pattern with that context attached. Chunk outputs are then
recombined into one document per pattern.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.SetGlobalNormalizationFunc(normalizeFlagName)
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/fabric-analyze/config.yml)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
	cmd.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "Log as JSON (overrides log.json)")

	cmd.AddCommand(RunCmd(env, g))
	cmd.AddCommand(ChunkCmd(env, g))
	cmd.AddCommand(PatternsCmd(env, g))
	cmd.AddCommand(ConfigCmd(env))

	return cmd
}

// normalizeFlagName accepts config-style spellings: --max_tokens is
// --max-tokens.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// loadConfig loads the configuration and applies the logging flags.
func loadConfig(cmd *cobra.Command, env *Env, g *globalFlags) (*config.Config, error) {
	cfg, err := env.ConfigLoader.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON = g.logJSON
	}
	return cfg, nil
}

// newLogger builds the run logger on stderr.
func newLogger(env *Env, cfg *config.Config) (*logrus.Logger, error) {
	return logging.New(env.Stderr, cfg.Log.Level, cfg.Log.JSON)
}
