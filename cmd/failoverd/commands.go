package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FairForge/failoverd/internal/config"
	"github.com/FairForge/failoverd/internal/manager"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file and print a summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running failoverd for its current status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		m, err := fetchStatus(ctx, http.DefaultClient, statusAddr)
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), m)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8080", "base URL of the operator API")
}

func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "configuration OK\n\n")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "primary\t%s\n", cfg.Failover.DefaultPrimary)
	fmt.Fprintf(tw, "mode\t%s\n", cfg.Strategy.Mode)
	fmt.Fprintf(tw, "poll interval\t%s\n", cfg.Failover.PollInterval)
	fmt.Fprintf(tw, "listen\t%s\n", cfg.Server.Listen)
	fmt.Fprintf(tw, "triggers\t%d\n", len(cfg.Strategy.Triggers))

	names := make([]string, 0, len(cfg.Strategy.Checks))
	for _, c := range cfg.Strategy.Checks {
		names = append(names, fmt.Sprintf("%s(x%d)", c.Name, c.Retries))
	}
	fmt.Fprintf(tw, "checks\t%s\n", strings.Join(names, ", "))

	targets := make([]string, 0, len(cfg.Targets))
	for name := range cfg.Targets {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	fmt.Fprintf(tw, "targets\t%s\n", strings.Join(targets, ", "))
	_ = tw.Flush()
}

func fetchStatus(ctx context.Context, client *http.Client, addr string) (manager.Metrics, error) {
	var m manager.Metrics

	url := strings.TrimRight(addr, "/") + "/api/v1/failover/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return m, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return m, fmt.Errorf("query %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return m, fmt.Errorf("query %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return m, fmt.Errorf("decode status: %w", err)
	}
	return m, nil
}

func printStatus(w io.Writer, m manager.Metrics) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "primary\t%s\n", m.CurrentPrimary)
	fmt.Fprintf(tw, "mode\t%s\n", m.Mode)
	fmt.Fprintf(tw, "state\t%s\n", m.State)
	fmt.Fprintf(tw, "can failover\t%t\n", m.CanFailover)
	fmt.Fprintf(tw, "failovers\t%d (%d ok, %d failed)\n", m.TotalFailovers, m.SuccessfulFailovers, m.FailedFailovers)
	fmt.Fprintf(tw, "success rate\t%.0f%%\n", m.SuccessRate*100)
	if m.LastFailover != nil {
		fmt.Fprintf(tw, "last failover\t%s\n", m.LastFailover.Format(time.RFC3339))
	}
	_ = tw.Flush()
}
