// Command bazaarctl is the operator CLI for a running Bazaar server. It
// talks to the HTTP API; mutating commands need the admin key.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	adminKey  string
)

func main() {
	root := &cobra.Command{
		Use:   "bazaarctl",
		Short: "Operator CLI for the Bazaar world server",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("BAZAAR_SERVER", "http://localhost:8080"), "server base URL")
	root.PersistentFlags().StringVar(&adminKey, "admin-key", os.Getenv("BAZAAR_ADMIN_KEY"), "admin bearer token")

	root.AddCommand(statusCmd(), tickCmd(), speedCmd(), eventsCmd(), chronicleCmd(), archiveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show world status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/api/v1/status", os.Stdout)
		},
	}
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Force one world tick (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/admin/tick", map[string]any{}, os.Stdout)
		},
	}
}

func speedCmd() *cobra.Command {
	var speed float64
	cmd := &cobra.Command{
		Use:   "speed",
		Short: "Set the tick scheduler speed multiplier (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/admin/speed", map[string]any{"speed": speed}, os.Stdout)
		},
	}
	cmd.Flags().Float64Var(&speed, "set", 1.0, "speed multiplier (0 pauses)")
	return cmd
}

func eventsCmd() *cobra.Command {
	var limit int
	var follow bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent world events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !follow {
				return getJSON(fmt.Sprintf("/api/v1/events?limit=%d", limit), os.Stdout)
			}
			// Poll rather than hold a websocket: the CLI stays stateless.
			seen := int64(-1)
			for {
				events, err := fetchEvents(limit)
				if err != nil {
					return err
				}
				for i := len(events) - 1; i >= 0; i-- {
					if events[i].ID > seen {
						fmt.Printf("[tick %d] %s: %s\n", events[i].Tick, events[i].Type, events[i].Description)
						seen = events[i].ID
					}
				}
				time.Sleep(5 * time.Second)
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events")
	cmd.Flags().BoolVar(&follow, "follow", false, "poll for new events")
	return cmd
}

func chronicleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chronicle",
		Short: "Print the current Bazaar Herald issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var issue struct {
				Tick    int64  `json:"tick"`
				Content string `json:"content"`
			}
			if err := fetchInto("/api/v1/chronicle", &issue); err != nil {
				return err
			}
			fmt.Println(issue.Content)
			return nil
		},
	}
}

func archiveCmd() *cobra.Command {
	var beforeTick int64
	var path string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive old world events to a compressed file (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/admin/archive",
				map[string]any{"before_tick": beforeTick, "path": path}, os.Stdout)
		},
	}
	cmd.Flags().Int64Var(&beforeTick, "before-tick", 0, "archive events older than this tick")
	cmd.Flags().StringVar(&path, "path", "", "server-side output path")
	cmd.MarkFlagRequired("before-tick")
	cmd.MarkFlagRequired("path")
	return cmd
}

type eventRow struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Tick        int64  `json:"tick"`
}

func fetchEvents(limit int) ([]eventRow, error) {
	var out []eventRow
	err := fetchInto(fmt.Sprintf("/api/v1/events?limit=%d", limit), &out)
	return out, err
}

func fetchInto(path string, v any) error {
	resp, err := http.Get(serverURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func getJSON(path string, w io.Writer) error {
	var v any
	if err := fetchInto(path, &v); err != nil {
		return err
	}
	return prettyPrint(w, v)
}

func postJSON(path string, body any, w io.Writer) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if adminKey != "" {
		req.Header.Set("Authorization", "Bearer "+adminKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return err
	}
	return prettyPrint(w, v)
}

func prettyPrint(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
