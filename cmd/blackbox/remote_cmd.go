package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/blackbox/internal/api"
)

var addrFlag string

// clientFromFlags resolves the daemon URL: --addr wins over the configured
// listen address.
func clientFromFlags() (*apiClient, error) {
	if addrFlag != "" {
		if u, err := baseURLFor(addrFlag); err == nil {
			return newAPIClient(u), nil
		}
		return newAPIClient(addrFlag), nil
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	u, err := baseURLFor(cfg.Server.ListenAddr)
	if err != nil {
		return nil, err
	}
	return newAPIClient(u), nil
}

func newDumpCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Ask the running daemon for a manual capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := clientFromFlags()
			if err != nil {
				return err
			}
			resp, err := c.capture(cmd.Context(), reason)
			if isConflict(err) {
				fmt.Fprintln(cmd.OutOrStdout(), api.CaptureFailedMessage)
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Incident captured: %s\n", resp.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the capture")
	cmd.Flags().StringVar(&addrFlag, "addr", "", "daemon address (default: server.listen_addr)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := clientFromFlags()
			if err != nil {
				return err
			}
			st, err := c.status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().StringVar(&addrFlag, "addr", "", "daemon address (default: server.listen_addr)")
	return cmd
}

func printStatus(out io.Writer, st api.StatusResponse) {
	fmt.Fprintf(out, "Version:      %s\n", st.Version)
	fmt.Fprintf(out, "Instance:     %s\n", st.InstanceID)
	fmt.Fprintf(out, "Uptime:       %s\n", time.Duration(st.UptimeSeconds)*time.Second)
	fmt.Fprintf(out, "Data dir:     %s\n", st.DataDir)
	fmt.Fprintf(out, "Incidents:    %s (%d bundles)\n", st.IncidentDir, st.BundleCount)
	fmt.Fprintf(out, "Recorder:     running=%t maxAge=%s maxBytes=%d\n",
		st.Recorder.Running, msDuration(st.Recorder.MaxAgeMs), st.Recorder.MaxBytes)
	fmt.Fprintf(out, "Trigger:      cooldown=%s debounce=%s stall=%s/%s\n",
		msDuration(st.Trigger.CooldownMs), msDuration(st.Trigger.DebounceMs),
		msDuration(st.Trigger.StallDegradedMs), msDuration(st.Trigger.StallCriticalMs))
	age := "unlimited"
	if st.Retention.MaxAgeMs != nil {
		age = msDuration(*st.Retention.MaxAgeMs).String()
	}
	fmt.Fprintf(out, "Retention:    maxCount=%d maxTotalBytes=%d maxAge=%s\n",
		st.Retention.MaxCount, st.Retention.MaxTotalBytes, age)
	fmt.Fprintf(out, "Webhook:      %t\n", st.WebhookEnabled)
	if st.LastIncident != nil {
		fmt.Fprintf(out, "Last:         %s at %s\n", st.LastIncident.ID, st.LastIncident.CreatedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "Last:         none")
	}

	if len(st.Scopes) == 0 {
		return
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tLAST BEAT\tSTALLED")
	for _, s := range st.Scopes {
		fmt.Fprintf(w, "%s\t%s\t%t\n", s.Scope, s.LastBeat.Format(time.RFC3339Nano), s.Stalled)
	}
	_ = w.Flush()
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
