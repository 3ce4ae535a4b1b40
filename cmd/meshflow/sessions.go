package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshflow/core"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage persistent sessions",
	}

	cmd.AddCommand(
		newSessionsCreateCmd(root),
		newSessionsListCmd(root),
		newSessionsShowCmd(root),
	)

	return cmd
}

func newSessionsCreateCmd(root *rootOptions) *cobra.Command {
	var (
		userID string
		id     string
		state  []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session, optionally seeded with state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			delta := core.NewStateDelta()

			for _, kv := range state {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --state %q, want key=value", kv)
				}
				key, err := core.ParseStateKey(k)
				if err != nil {
					return err
				}
				delta.Set(key, v)
			}

			stack, _, err := root.stack()
			if err != nil {
				return err
			}
			defer stack.Close() //nolint:errcheck

			sess, err := stack.SessionStore().Create(cmd.Context(), core.CreateSessionRequest{ID: id, UserID: userID, State: delta})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), sess.ID)

			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "Owner of the session")
	cmd.Flags().StringVar(&id, "id", "", "Session ID (generated when empty)")
	cmd.Flags().StringArrayVar(&state, "state", nil, "Initial state as scope:key=value (repeatable)")

	return cmd
}

func newSessionsListCmd(root *rootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the sessions of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, _, err := root.stack()
			if err != nil {
				return err
			}
			defer stack.Close() //nolint:errcheck

			sessions, err := stack.SessionStore().List(cmd.Context(), userID)
			if err != nil {
				return err
			}

			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
				return nil
			}

			for _, s := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.ID, s.Updated.Format("2006-01-02T15:04:05Z07:00"))
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "Owner of the sessions")

	return cmd
}

func newSessionsShowCmd(root *rootOptions) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the state (and optionally the history) of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, _, err := root.stack()
			if err != nil {
				return err
			}
			defer stack.Close() //nolint:errcheck

			sess, err := stack.SessionStore().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			view := map[string]any{
				"id":      sess.ID,
				"user_id": sess.UserID,
				"state":   sess.StateOf(core.ScopeSession),
				"user":    sess.StateOf(core.ScopeUser),
			}
			if history {
				view["events"] = sess.History()
			}

			data, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(data))

			return nil
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "Include the event history")

	return cmd
}
