package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the analysis API and its dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := c.requestContext(cmd)
			defer cancel()

			health, err := c.client().Health(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printf(out, "%s %s\n", titleStyle.Render(c.v.GetString("api_url")), health.Status)
			names := make([]string, 0, len(health.Services))
			for name := range health.Services {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				state := "up"
				if !health.Services[name] {
					state = errorStyle.Render("down")
				}
				printf(out, "  %-10s %s\n", name, state)
			}
			if health.Status != "healthy" {
				return fmt.Errorf("analysis API is %s", health.Status)
			}
			return nil
		},
	}
}
