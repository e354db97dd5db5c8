package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/alnah/go-fabric-analyze/internal/config"
)

// ConfigCmd creates the config command with subcommands.
// The env parameter provides injectable dependencies for testing.
func ConfigCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long: `Manage persistent configuration settings.

Configuration is stored in $XDG_CONFIG_HOME/fabric-analyze/config.yml
(~/.config/fabric-analyze/config.yml by default). Every key can be
overridden with an environment variable: chunk.max_tokens is read from
FABRIC_ANALYZE_CHUNK_MAX_TOKENS.`,
		Example: `  fabric-analyze config set chunk.max_tokens 6000
  fabric-analyze config set models.phase2 llama-70b,kimi
  fabric-analyze config get retry.base_delay
  fabric-analyze config list`,
	}

	cmd.AddCommand(configSetCmd(env))
	cmd.AddCommand(configGetCmd(env))
	cmd.AddCommand(configUnsetCmd(env))
	cmd.AddCommand(configListCmd(env))
	cmd.AddCommand(configPathCmd(env))

	return cmd
}

// configSetCmd creates the "config set" subcommand.
func configSetCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the config file.

The value is validated together with the rest of the configuration before
the file is written. Lists are comma separated.`,
		Example: `  fabric-analyze config set output.dir ~/notes/analysis
  fabric-analyze config set fabric.backend openai`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(env, args[0], args[1])
		},
	}
}

// configGetCmd creates the "config get" subcommand.
func configGetCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Get the effective value of a key",
		Example: `  fabric-analyze config get chunk.max_tokens`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := config.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(env.Stdout, value)
			return nil
		},
	}
}

// configUnsetCmd creates the "config unset" subcommand.
func configUnsetCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:     "unset <key>",
		Short:   "Remove a key from the config file",
		Example: `  fabric-analyze config unset delay.long`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Unset(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(env.Stderr, "Unset %s\n", args[0])
			return nil
		},
	}
}

// configListCmd creates the "config list" subcommand.
func configListCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all effective configuration values",
		Long: `List all effective configuration values: defaults, then the config
file, then environment overrides.`,
		Example: `  fabric-analyze config list`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.List()
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(data))
			for k := range data {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Fprintf(env.Stdout, "%s=%s\n", k, data[k])
			}
			return nil
		},
	}
}

// configPathCmd creates the "config path" subcommand.
func configPathCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Path()
			if err != nil {
				return err
			}
			fmt.Fprintln(env.Stdout, p)
			return nil
		},
	}
}

// runConfigSet handles the "config set" command.
func runConfigSet(env *Env, key, value string) error {
	switch key {
	case "output.dir", "output.save_dir":
		expanded := config.ExpandPath(value)
		if err := config.ValidOutputDir(expanded); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		value = expanded
	}

	if err := config.Save(key, value); err != nil {
		return err
	}
	fmt.Fprintf(env.Stderr, "Set %s = %s\n", key, value)
	return nil
}
