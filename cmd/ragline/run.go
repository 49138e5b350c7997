package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360studio/ragline/pipeline"
)

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <pipeline> [seed]",
		Short: "Run a configured pipeline",
		Long: `Run executes a pipeline declared in configuration. The optional seed
is handed to the pipeline's source stages: a path or URL for ingest
pipelines, a question for query pipelines.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			runner, err := app.runner(args[0])
			if err != nil {
				return err
			}

			var seed any
			if len(args) == 2 {
				seed = args[1]
			}
			result, err := runner.Run(cmd.Context(), seed)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func ingestCmd(configPath *string) *cobra.Command {
	var pipelineName string

	cmd := &cobra.Command{
		Use:   "ingest <source>...",
		Short: "Load, chunk, embed, and store documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			runner, err := app.runner(pipelineName)
			if err != nil {
				return err
			}

			result, err := runner.Run(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&pipelineName, "pipeline", "ingest", "Pipeline to run")
	return cmd
}

func queryCmd(configPath *string) *cobra.Command {
	var (
		pipelineName string
		limit        int
		expected     string
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question against the indexed corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			runner, err := app.runner(pipelineName)
			if err != nil {
				return err
			}

			seed := pipeline.Query{Text: args[0], Limit: limit, Expected: expected}
			result, err := runner.Run(cmd.Context(), seed)
			if err != nil {
				return err
			}

			if answer, ok := result.(pipeline.Answer); ok {
				fmt.Println(answer.Text)
				if len(answer.Contexts) > 0 {
					fmt.Fprintf(os.Stderr, "\n(%d supporting contexts)\n", len(answer.Contexts))
				}
				return nil
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&pipelineName, "pipeline", "query", "Pipeline to run")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max contexts to retrieve (0 = pipeline default)")
	cmd.Flags().StringVar(&expected, "expected", "", "Reference answer for evaluator stages")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
