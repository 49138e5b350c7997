package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/ragline/plugin/stage"
)

func pluginsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List registered stage plugins by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			for _, category := range stage.Categories() {
				names := app.Registry.List(category)
				if len(names) == 0 {
					fmt.Printf("%-10s (none)\n", category)
					continue
				}
				for _, name := range names {
					entry, err := app.Registry.GetEntry(category, name)
					if err != nil {
						return err
					}
					signed := ""
					if entry.Manifest != nil {
						signed = "  signed"
					}
					fmt.Printf("%-10s %-12s v%s%s\n", category, name, entry.Metadata.Version, signed)
				}
			}
			return nil
		},
	}
}
