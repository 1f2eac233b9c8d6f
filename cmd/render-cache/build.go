package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Prewarm the static pages once and print the build report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, closeSite, err := c.newSite()
			if err != nil {
				return err
			}
			defer closeSite()

			info, buildErr := s.Build(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "build %s at %s\n", info.ID, info.BuiltAt.Format("2006-01-02 15:04:05"))
			for _, key := range info.Prewarmed {
				fmt.Fprintf(out, "  ok    %s\n", key)
			}
			for _, key := range info.Failed {
				fmt.Fprintf(out, "  fail  %s\n", key)
			}
			return buildErr
		},
	}
}
