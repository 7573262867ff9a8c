package main

import (
	"fmt"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/session"
	"github.com/spf13/cobra"
)

func (c *cli) findingsCmd() *cobra.Command {
	var (
		category string
		page     int
		pageSize int
		output   string
	)
	cmd := &cobra.Command{
		Use:   "findings <document_id>",
		Short: "List the findings of a completed document",
		Long: `List the findings of a completed document, optionally narrowed to one
category and paged. Categories: EXCLUSION, DEDUCTIBLE, COPAYMENT, COINSURANCE,
WAITING_PERIOD, POLICYHOLDER_DUTY, CLAIM_PROCESS, NETWORK_RESTRICTION,
RENEWAL_RESTRICTION or all.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(output); err != nil {
				return err
			}
			if page < 1 || pageSize < 1 {
				return fmt.Errorf("--page and --page-size must be positive")
			}

			ctx, cancel := c.requestContext(cmd)
			defer cancel()

			api := c.client()
			status, err := api.Status(ctx, args[0])
			if err != nil {
				return err
			}
			parsed, _ := domain.ParseAnalysisStatus(status.Status)
			doc := domain.Document{ID: args[0], Status: parsed}

			store := session.NewFindingsStore(api, c.logger)
			if _, err := store.Load(ctx, doc); err != nil {
				return err
			}
			if _, err := store.FilterBy(category); err != nil {
				return err
			}

			findings := store.Page(page-1, pageSize)
			if err := renderFindings(cmd.OutOrStdout(), output, findings); err != nil {
				return err
			}
			if output == formatTable {
				if pages := store.PageCount(pageSize); pages > 1 {
					printf(cmd.OutOrStdout(), "%s\n", mutedStyle.Render(fmt.Sprintf("page %d of %d", page, pages)))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "all", "only show findings of this category")
	cmd.Flags().IntVar(&page, "page", 1, "page to show, starting at 1")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "findings per page")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format (table, json, yaml)")
	return cmd
}
