package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kirillkom/policy-analyzer/internal/session"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func (c *cli) analyzeCmd() *cobra.Command {
	var chat bool
	cmd := &cobra.Command{
		Use:   "analyze <file.pdf>",
		Short: "Upload a policy and wait for its findings",
		Long: `Upload a PDF policy, follow the background analysis until it settles and
print the findings. With --chat an interactive session about the findings
starts afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, closer, err := session.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					c.logger.Warn("failed to close file", "error", closeErr)
				}
			}()

			wf := c.workflow()
			defer wf.Close()

			bar := newAnalysisBar(cmd.ErrOrStderr())
			printf(cmd.ErrOrStderr(), "Uploading %s...\n", file.Name)
			result, err := wf.Analyze(cmd.Context(), file, bar.update)
			bar.finish()
			return c.finishAnalysis(cmd, wf, result, err, chat)
		},
	}
	cmd.Flags().BoolVar(&chat, "chat", false, "chat about the findings once the analysis completes")
	return cmd
}

func (c *cli) watchCmd() *cobra.Command {
	var chat bool
	cmd := &cobra.Command{
		Use:   "watch <document_id>",
		Short: "Follow the analysis of a document uploaded earlier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf := c.workflow()
			defer wf.Close()

			bar := newAnalysisBar(cmd.ErrOrStderr())
			result, err := wf.Resume(cmd.Context(), args[0], bar.update)
			bar.finish()
			return c.finishAnalysis(cmd, wf, result, err, chat)
		},
	}
	cmd.Flags().BoolVar(&chat, "chat", false, "chat about the findings once the analysis completes")
	return cmd
}

func (c *cli) finishAnalysis(cmd *cobra.Command, wf *session.Workflow, result *session.Result, err error, chat bool) error {
	out := cmd.OutOrStdout()
	if err != nil {
		if result != nil {
			printf(out, "Document %s analyzed, but findings could not be loaded.\n", result.Document.ID)
		}
		return err
	}

	doc := result.Document
	printf(out, "%s\n", titleStyle.Render(fmt.Sprintf("%s (%s, %d pages)", doc.Filename, doc.ID, doc.TotalPages)))
	if err := renderFindingsTable(out, result.Findings); err != nil {
		return err
	}
	if flagged := wf.Findings.Flagged(); len(flagged) > 0 {
		warnf(cmd.ErrOrStderr(), "%d finding(s) hidden: page number outside the document", len(flagged))
	}

	if !chat || len(result.Findings) == 0 {
		return nil
	}
	wf.Chat.SelectFinding(result.Findings[0])
	return c.chatLoop(cmd, wf)
}

const chatHelp = "Ask a question, :select <id> to switch finding, :list to show findings, :quit to leave."

func (c *cli) chatLoop(cmd *cobra.Command, wf *session.Workflow) error {
	out := cmd.OutOrStdout()
	if f, ok := wf.Chat.Finding(); ok {
		renderFindingDetail(out, f)
	}
	printf(out, "%s\n", mutedStyle.Render(chatHelp))

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		printf(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":q":
			return nil
		case line == ":list":
			if err := renderFindingsTable(out, wf.Findings.Findings()); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":select"):
			selectFinding(out, cmd.ErrOrStderr(), wf, strings.TrimSpace(strings.TrimPrefix(line, ":select")))
		default:
			reply, err := wf.Chat.Send(cmd.Context(), line)
			if err != nil && reply.Content == "" {
				warnf(cmd.ErrOrStderr(), "%s", session.UserMessage(err))
				continue
			}
			printf(out, "%s\n", reply.Content)
			if err != nil {
				warnf(cmd.ErrOrStderr(), "%s", session.UserMessage(err))
			}
		}
	}
}

func selectFinding(out, errOut io.Writer, wf *session.Workflow, raw string) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		warnf(errOut, "usage: :select <finding id>")
		return
	}
	f, ok := wf.Findings.Lookup(id)
	if !ok {
		warnf(errOut, "finding %d is not part of this document", id)
		return
	}
	wf.Chat.SelectFinding(f)
	renderFindingDetail(out, f)
}

// analysisBar mirrors poll updates onto a 0..100 progress bar.
type analysisBar struct {
	bar *progressbar.ProgressBar
}

func newAnalysisBar(w io.Writer) *analysisBar {
	return &analysisBar{bar: progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Analyzing...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("failed to write newline after progress bar", "error", err)
			}
		}),
	)}
}

func (b *analysisBar) update(u session.Update) {
	if u.Snapshot.Message != "" {
		b.bar.Describe(fmt.Sprintf("[cyan][bold]%s[reset]", u.Snapshot.Message))
	}
	if err := b.bar.Set(u.Snapshot.Progress); err != nil {
		slog.Warn("failed to update progress bar", "error", err)
	}
}

func (b *analysisBar) finish() {
	if err := b.bar.Finish(); err != nil {
		slog.Warn("failed to finish progress bar", "error", err)
	}
}
