package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/dashbot/internal/api"
	"github.com/kalambet/dashbot/internal/config"
	"github.com/kalambet/dashbot/internal/pipeline"
	"github.com/kalambet/dashbot/internal/reminder"
	"github.com/kalambet/dashbot/internal/storage"
)

// --- send ---

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a plain-language message to the dashboard",
	Long: `Send a plain-language message to the dashboard.

Examples:
  dashbot send --user-id 42 "Spent $47 on dinner"
  dashbot send --user-id 42 "Remind me to call mom tomorrow at 6pm"
  dashbot send --user-id 42 "delete the dinner expense"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user-id")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSend(cmd.Context(), client, cmd.OutOrStdout(), userID, strings.Join(args, " "))
	},
}

func runSend(ctx context.Context, c *apiClient, w io.Writer, userID, text string) error {
	resp, err := c.post(ctx, "/messages", api.MessageRequest{UserID: userID, Text: text})
	if err != nil {
		return err
	}
	var out struct {
		Outcome pipeline.OutcomeKind `json:"outcome"`
		Reply   string               `json:"reply"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	fmt.Fprintln(w, out.Reply)
	return nil
}

// --- entries ---

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List, edit or remove dashboard entries",
}

var entriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user-id")
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		entries, err := listEntries(cmd.Context(), client, userID, category, limit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(w, "No entries found.")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintln(w, formatEntry(e))
		}
		return nil
	},
}

func listEntries(ctx context.Context, c *apiClient, userID, category string, limit int) ([]storage.Entry, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	if category != "" {
		q.Set("category", category)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	resp, err := c.get(ctx, "/entries?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var out struct {
		Entries []storage.Entry `json:"entries"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// formatEntry renders one entry as "id  date  category  k=v ...".
func formatEntry(e storage.Entry) string {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%v", k, e.Data[k]))
	}

	id := e.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s  %s  %-9s  %s",
		colorize(colorCyan, id),
		e.CreatedAt.Local().Format("2006-01-02 15:04"),
		e.Category,
		strings.Join(fields, " "),
	)
}

var entriesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove an entry by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user-id")
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/entries/"+url.PathEscape(args[0])+"?user_id="+url.QueryEscape(userID))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Removed entry %s", args[0])
		return nil
	},
}

var entriesSetCmd = &cobra.Command{
	Use:   "set <id> <field=value>...",
	Short: "Update fields of an entry (an empty value removes the field)",
	Long: `Update fields of an entry. Values are parsed as JSON when possible,
so numbers and booleans keep their type. An empty value removes the field.

Examples:
  dashbot entries set --user-id 42 1f0c9a2e status=done
  dashbot entries set --user-id 42 1f0c9a2e amount=52.5 notes=`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user-id")
		fields, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/entries/"+url.PathEscape(args[0])+"?user_id="+url.QueryEscape(userID), fields)
		if err != nil {
			return err
		}
		var updated storage.Entry
		if err := decodeJSON(resp, &updated); err != nil {
			return err
		}
		printSuccess("Updated entry %s", args[0])
		fmt.Fprintln(cmd.OutOrStdout(), formatEntry(updated))
		return nil
	},
}

// parseAssignments turns key=value arguments into a patch. An empty value
// maps to nil, which removes the field.
func parseAssignments(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q, want field=value", a)
		}
		if v == "" {
			fields[k] = nil
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			fields[k] = parsed
		} else {
			fields[k] = v
		}
	}
	return fields, nil
}

func init() {
	entriesListCmd.Flags().String("category", "", "only list entries of this category")
	entriesListCmd.Flags().Int("limit", 20, "maximum number of entries to list")
	entriesListCmd.Flags().Bool("json", false, "print entries as JSON")
	entriesCmd.AddCommand(entriesListCmd, entriesRmCmd, entriesSetCmd)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry counts per category",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user-id")
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats?user_id="+url.QueryEscape(userID))
		if err != nil {
			return err
		}
		var out struct {
			Reply string `json:"reply"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Reply)
		return nil
	},
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reminder sweep now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := runSweep(cmd.Context(), client)
		if err != nil {
			return err
		}
		printSuccess("Sweep done: %d due, %d delivered, %d failed, %d skipped, %d finalized",
			res.Due, res.Delivered, res.Failed, res.Skipped, res.Finalized)
		return nil
	},
}

func runSweep(ctx context.Context, c *apiClient) (reminder.SweepResult, error) {
	resp, err := c.post(ctx, "/reminders/sweep", nil)
	if err != nil {
		return reminder.SweepResult{}, err
	}
	var res reminder.SweepResult
	err = decodeJSON(resp, &res)
	return res, err
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the dashboard tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user-id")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Pipeline: a.pipeline,
			Entries:  a.store,
			UserID:   userID,
		})
		if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:       "unset <key>",
	Short:     "Reset a configuration value to its default",
	Args:      cobra.ExactArgs(1),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)

	for _, c := range []*cobra.Command{sendCmd, entriesListCmd, entriesRmCmd, entriesSetCmd, statsCmd} {
		c.Flags().String("user-id", os.Getenv("DASHBOT_USER_ID"), "owner of the entries (default $DASHBOT_USER_ID)")
	}
	mcpCmd.Flags().String("user-id", os.Getenv("DASHBOT_USER_ID"), "user id for tool calls that do not name one")
}
