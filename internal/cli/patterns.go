package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alnah/go-fabric-analyze/internal/config"
	"github.com/alnah/go-fabric-analyze/internal/pattern"
)

// PatternsCmd creates the patterns command, which lists the patterns the
// HTTP backend can resolve (the patterns directory plus built-ins).
func PatternsCmd(env *Env, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List available patterns",
		Long: `List the patterns found in fabric.patterns_dir, merged with the
built-in prompts used for metadata extraction and joining.`,
		Example: `  fabric-analyze patterns`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, env, g)
			if err != nil {
				return err
			}
			names, err := pattern.NewLoader(config.ExpandPath(cfg.Fabric.PatternsDir)).Available()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(env.Stdout, n)
			}
			return nil
		},
	}
}
