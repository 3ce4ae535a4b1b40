package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/pipeline"
	"github.com/hupe1980/meshflow/tool"
)

type runOptions struct {
	sessionID string
	userID    string
	jsonOut   bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml> <input>...",
		Short: "Run a pipeline against a session",
		Long: `Builds the pipeline, runs it with the given input and prints every committed event.
A new session is created unless --session names an existing one.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), root, opts, args[0], strings.Join(args[1:], " "))
		},
	}

	cmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Existing session to run against")
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "cli", "Owner of a newly created session")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print events as JSON lines")

	return cmd
}

func runPipeline(ctx context.Context, out io.Writer, root *rootOptions, opts *runOptions, path, input string) error {
	spec, err := pipeline.Load(path)
	if err != nil {
		return err
	}

	stack, cfg, err := root.stack()
	if err != nil {
		return err
	}
	defer stack.Close() //nolint:errcheck

	reg := pipeline.NewRegistry().
		RegisterModel("default", stack.Model).
		RegisterTool(tool.NewStateTool())

	tree, err := pipeline.Build(spec, reg)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				stack.Logger.Warn("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close() //nolint:errcheck
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Runner.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Runner.Timeout)
		defer cancel()
	}

	sessionID := opts.sessionID
	if sessionID == "" {
		sess, err := stack.CreateSession(ctx, opts.userID, nil)
		if err != nil {
			return err
		}
		sessionID = sess.ID
		fmt.Fprintf(out, "session %s\n", sessionID)
	}

	for ev, err := range stack.Events(ctx, tree, sessionID, input) {
		if ev.ID != "" {
			if perr := printEvent(out, ev, opts.jsonOut); perr != nil {
				return perr
			}
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func printEvent(out io.Writer, ev core.Event, jsonOut bool) error {
	if jsonOut {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	status := string(ev.Status)
	if status == "" {
		status = "-"
	}

	label := ev.Author
	if ev.Branch != "" {
		label += "@" + ev.Branch
	}

	text := strings.TrimSpace(ev.Text())
	if ev.Final {
		label = "final"
	}

	_, err := fmt.Fprintf(out, "[%s] %s: %s\n", label, status, text)

	return err
}
