package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/session"
	"github.com/spf13/cobra"
)

func (c *cli) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <finding_id> <question...>",
		Short: "Ask one question about a finding",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid finding id %q", args[0])
			}

			ctx, cancel := c.requestContext(cmd)
			defer cancel()

			chat := session.NewChatSession(c.client(), c.logger)
			chat.SelectFinding(domain.Finding{ID: id})
			reply, err := chat.Send(ctx, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", reply.Content)
			return nil
		},
	}
}
