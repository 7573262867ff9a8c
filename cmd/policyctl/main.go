package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/config"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/analysisapi"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/resilience"
	"github.com/kirillkom/policy-analyzer/internal/observability/logging"
	"github.com/kirillkom/policy-analyzer/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

// cli carries the per-invocation state shared by every subcommand.
type cli struct {
	v      *viper.Viper
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, session.UserMessage(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), logger: slog.Default()}
	var cfgFile string

	root := &cobra.Command{
		Use:   "policyctl",
		Short: "Upload insurance policies and review the concerns found in them",
		Long: `policyctl talks to the policy analysis API: it uploads a PDF, follows the
background analysis, lists the findings and answers questions about them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initConfig(cmd, cfgFile)
		},
	}

	defaults := config.LoadClient()
	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/policyctl/config.yaml)")
	flags.String("api-url", defaults.APIBaseURL, "analysis API base URL")
	flags.Duration("timeout", defaults.RequestTimeout, "per-request timeout")
	flags.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")

	_ = c.v.BindPFlag("api_url", flags.Lookup("api-url"))
	_ = c.v.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = c.v.BindPFlag("log_level", flags.Lookup("log-level"))
	c.v.SetDefault("poll_interval", defaults.PollInterval)
	c.v.SetDefault("poll_max_failures", defaults.PollMaxFailure)
	c.v.SetDefault("max_upload_bytes", defaults.MaxUploadBytes)

	root.AddCommand(c.analyzeCmd())
	root.AddCommand(c.watchCmd())
	root.AddCommand(c.findingsCmd())
	root.AddCommand(c.chatCmd())
	root.AddCommand(c.healthCmd())
	return root
}

func (c *cli) initConfig(cmd *cobra.Command, cfgFile string) error {
	if cfgFile != "" {
		c.v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			c.v.AddConfigPath(home + "/.config/policyctl")
		}
		c.v.AddConfigPath(".")
		c.v.SetConfigName("config")
		c.v.SetConfigType("yaml")
	}

	c.v.SetEnvPrefix("POLICY")
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	c.logger = logging.NewTextLogger(cmd.ErrOrStderr(), c.v.GetString("log_level"))
	return nil
}

func (c *cli) client() *analysisapi.Client {
	executor := resilience.NewExecutor(resilience.ClientDefaults()).WithLogger(c.logger)
	return analysisapi.New(
		c.v.GetString("api_url"),
		c.v.GetDuration("timeout"),
		analysisapi.WithExecutor(executor),
	)
}

func (c *cli) workflow() *session.Workflow {
	return session.NewWorkflow(c.client(), session.Options{
		MaxUploadBytes:  c.v.GetInt64("max_upload_bytes"),
		PollInterval:    c.v.GetDuration("poll_interval"),
		MaxPollFailures: c.v.GetInt("poll_max_failures"),
		Logger:          c.logger,
	})
}

func (c *cli) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout := c.v.GetDuration("timeout")
	if timeout <= 0 {
		timeout = time.Minute
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

func printf(w io.Writer, format string, args ...any) {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		slog.Warn("failed to write output", "error", err)
	}
}
