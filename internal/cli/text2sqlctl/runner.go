package text2sqlctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// exitError carries the process exit code of a command that ran but failed.
// Any other error returned by cobra is a usage error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func failed(format string, args ...any) error {
	return &exitError{code: 1, err: fmt.Errorf(format, args...)}
}

// Run executes one text2sqlctl invocation and returns the process exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := NewRootCommand(defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintln(stderr, err)
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	_, _ = fmt.Fprintln(stderr, root.UsageString())
	return 2
}

func NewRootCommand(defaults Options) *cobra.Command {
	c := &client{}
	root := &cobra.Command{
		Use:           "text2sqlctl",
		Short:         "Ask questions of a text2sql API in natural language",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := url.ParseRequestURI(c.baseURL); err != nil {
				return fmt.Errorf("invalid --base-url %q: %w", c.baseURL, err)
			}
			c.http = defaults.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: c.timeout}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "text2sql API base URL")
	root.PersistentFlags().StringVar(&c.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")
	root.PersistentFlags().BoolVar(&c.rawJSON, "json", false, "print the raw JSON response")

	root.AddCommand(
		newStatusCommand(c, "health", "Check API liveness", "/v1/health"),
		newStatusCommand(c, "ready", "Check API readiness", "/v1/ready"),
		newSchemaCommand(c),
		newAskCommand(c),
	)
	return root
}

func newStatusCommand(c *client, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := c.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func newSchemaCommand(c *client) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the schema context used for SQL generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/schema"
			if refresh {
				path += "?refresh=true"
			}
			body, err := c.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if c.rawJSON {
				return printJSON(cmd.OutOrStdout(), body)
			}
			return renderSchema(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-introspect the database before answering")
	return cmd
}

func newAskCommand(c *client) *cobra.Command {
	var maxRows int
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Translate a question to SQL, run it and repair it on failure",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question is required")
			}
			body, err := c.do(cmd.Context(), http.MethodPost, "/v1/ask", map[string]string{"question": question})
			if err != nil {
				return err
			}
			if c.rawJSON {
				if err := printJSON(cmd.OutOrStdout(), body); err != nil {
					return err
				}
			} else if err := renderAnswer(cmd.OutOrStdout(), body, maxRows); err != nil {
				return err
			}
			return outcomeError(body)
		},
	}
	cmd.Flags().IntVar(&maxRows, "max-rows", 10, "number of result rows to display")
	return cmd
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
