package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func validateCmd(configPath *string) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and pipeline topology",
		Long: `Validate loads the configuration, checks every section, builds each
declared pipeline against the registered plugins, and lints the
resulting graphs for orphaned or unreachable stages.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			failed := 0
			for _, pc := range app.Config.Pipelines {
				runner, err := app.runner(pc.Name)
				if err != nil {
					fmt.Printf("FAIL %s: %v\n", pc.Name, err)
					failed++
					continue
				}
				warnings, err := runner.Graph().ValidateTopology(strict)
				if err != nil {
					fmt.Printf("FAIL %s: %v\n", pc.Name, err)
					failed++
					continue
				}
				fmt.Printf("ok   %s (%d stages)\n", pc.Name, runner.Graph().Len())
				for _, w := range warnings {
					fmt.Printf("     warning: %s\n", w.Message)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d pipelines failed validation", failed, len(app.Config.Pipelines))
			}
			if len(app.Config.Pipelines) == 0 {
				fmt.Println("configuration valid (no pipelines declared)")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat topology warnings as errors")
	return cmd
}
