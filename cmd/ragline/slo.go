package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sloCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slo",
		Short: "Service level objective tools",
	}
	cmd.AddCommand(sloReportCmd(configPath))
	return cmd
}

func sloReportCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report SLO health, budgets, and active alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			report := app.Monitor.GenerateReport()
			if asJSON {
				return printJSON(report)
			}

			fmt.Printf("SLOs: %d total, %d healthy, %d warning, %d urgent\n\n",
				report.Summary.Total, report.Summary.Healthy,
				report.Summary.Warning, report.Summary.Urgent)
			for name, status := range report.SLOs {
				fmt.Printf("%-22s SLI %.4f  target %.4f  budget remaining %.2f%%  (%d measurements)\n",
					name, status.SLI, status.Definition.Target,
					100-status.Budget.ErrorBudgetPercentage, status.Measurements)
			}
			if len(report.Alerts) > 0 {
				fmt.Println("\nActive alerts:")
				for _, alert := range report.Alerts {
					fmt.Printf("  %s: SLI %.4f below threshold %.4f (since %s)\n",
						alert.SLO, alert.CurrentSLI, alert.Threshold,
						alert.TriggeredAt.Format("2006-01-02 15:04:05"))
				}
			}
			for _, rec := range report.Recommendations {
				if rec.Severity != "healthy" {
					fmt.Printf("\n[%s] %s: %s\n", rec.Severity, rec.SLO, rec.Action)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the full report as JSON")
	return cmd
}
