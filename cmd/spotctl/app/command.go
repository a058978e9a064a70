package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/service"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/status"
	apihttp "github.com/autopeer-io/spotpeer/internal/spotpeer/server/http"
)

const timeLayout = "2006-01-02 15:04:05"

type globalOptions struct {
	server  string
	timeout time.Duration
	output  string
	lot     int64
}

func (o *globalOptions) client() *Client {
	return NewClient(o.server, o.timeout)
}

func (o *globalOptions) validate() error {
	if o.output != "table" && o.output != "json" {
		return fmt.Errorf("--output must be table or json, got %q", o.output)
	}
	return nil
}

// resolveLot returns --lot, or the lot currently active on the server.
func (o *globalOptions) resolveLot(ctx context.Context, c *Client) (model.LotID, error) {
	if o.lot > 0 {
		return model.LotID(o.lot), nil
	}
	snap, err := c.ActiveLot(ctx)
	if err != nil {
		return 0, err
	}
	if snap.Lot == 0 {
		return 0, fmt.Errorf("no lot selected; pass --lot or run 'spotctl select LOT'")
	}
	return snap.Lot, nil
}

// NewCommand returns the spotctl root command.
func NewCommand() *cobra.Command {
	o := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "spotctl",
		Short:         "Inspect and control a running spotpeer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return o.validate()
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVarP(&o.server, "server", "s", "http://localhost:8080", "Address of the spotpeer HTTP API.")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "Request timeout.")
	fs.StringVarP(&o.output, "output", "o", "table", "Output format: table or json.")
	fs.Int64Var(&o.lot, "lot", 0, "Lot to query; defaults to the active lot.")

	cmd.AddCommand(
		newSpotsCommand(o),
		newStatsCommand(o),
		newFloorsCommand(o),
		newSelectCommand(o),
		newRefreshCommand(o),
		newRequestStatusCommand(o),
		newConnectionCommand(o),
	)
	return cmd
}

func newSpotsCommand(o *globalOptions) *cobra.Command {
	var floor, statusFilter string
	cmd := &cobra.Command{
		Use:   "spots",
		Short: "List the merged spots of a lot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if statusFilter != "" {
				if _, ok := status.Parse(statusFilter); !ok {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
			}
			c := o.client()
			lot, err := o.resolveLot(cmd.Context(), c)
			if err != nil {
				return err
			}
			spots, err := c.Spots(cmd.Context(), lot, floor, statusFilter)
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), spots, func(t *uitable.Table) {
				t.AddRow("ID", "CODE", "FLOOR", "STATUS", "LABEL", "LIVE", "LAST UPDATE", "SENSOR")
				for _, s := range spots {
					sensor := ""
					if s.Sensor != nil {
						sensor = s.Sensor.SensorID
					}
					t.AddRow(s.ID, s.Code, s.Floor, s.Status, s.Status.Spanish(), s.IsLive, formatTime(s.LastUpdate), sensor)
				}
			})
		},
	}
	cmd.Flags().StringVar(&floor, "floor", "", "Only spots on this floor.")
	cmd.Flags().StringVar(&statusFilter, "status", "", "Only spots with this status, in either vocabulary.")
	return cmd
}

func newStatsCommand(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-status counts of a lot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.client()
			lot, err := o.resolveLot(cmd.Context(), c)
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context(), lot)
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), stats, func(t *uitable.Table) {
				header := []any{"TOTAL"}
				row := []any{stats.Total}
				for _, st := range status.All {
					header = append(header, strings.ToUpper(st.String()))
					row = append(row, stats.Count(st))
				}
				t.AddRow(append(header, "UNRECOGNIZED")...)
				t.AddRow(append(row, stats.Unrecognized)...)
			})
		},
	}
}

func newFloorsCommand(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "floors",
		Short: "List the floors of a lot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.client()
			lot, err := o.resolveLot(cmd.Context(), c)
			if err != nil {
				return err
			}
			floors, err := c.Floors(cmd.Context(), lot)
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), floors, func(t *uitable.Table) {
				t.AddRow("FLOOR")
				for _, f := range floors {
					t.AddRow(f)
				}
			})
		},
	}
}

func newSelectCommand(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "select LOT",
		Short: "Make LOT the active lot and load its baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid lot %q", args[0])
			}
			snap, err := o.client().Select(cmd.Context(), model.LotID(id))
			if err != nil {
				return err
			}
			return o.printSnapshot(cmd.OutOrStdout(), snap)
		},
	}
}

func newRefreshCommand(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload the baseline of the active lot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := o.client().Refresh(cmd.Context())
			if err != nil {
				return err
			}
			return o.printSnapshot(cmd.OutOrStdout(), snap)
		},
	}
}

func newRequestStatusCommand(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "request-status",
		Short: "Ask the backend to re-broadcast the active lot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.client().RequestStatus(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "status requested")
			return nil
		},
	}
}

func newConnectionCommand(o *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Show the push channel state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := o.client().Connection(cmd.Context())
			if err != nil {
				return err
			}
			return o.printConnection(cmd.OutOrStdout(), info)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "connect",
			Short: "Open the push channel and reset the reconnect budget",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				info, err := o.client().Connect(cmd.Context())
				if err != nil {
					return err
				}
				return o.printConnection(cmd.OutOrStdout(), info)
			},
		},
		&cobra.Command{
			Use:   "disconnect",
			Short: "Close the push channel",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				info, err := o.client().Disconnect(cmd.Context())
				if err != nil {
					return err
				}
				return o.printConnection(cmd.OutOrStdout(), info)
			},
		},
	)
	return cmd
}

func (o *globalOptions) printSnapshot(w io.Writer, s service.Snapshot) error {
	return o.print(w, s, func(t *uitable.Table) {
		t.AddRow("LOT", "LOADED", "SPOTS", "FETCHED AT", "ERROR")
		t.AddRow(s.Lot, s.Loaded, s.Spots, formatTime(s.FetchedAt), s.Error)
	})
}

func (o *globalOptions) printConnection(w io.Writer, info apihttp.ConnectionInfo) error {
	return o.print(w, info, func(t *uitable.Table) {
		last := ""
		if info.LastUpdate != nil {
			last = formatTime(*info.LastUpdate)
		}
		t.AddRow("STATE", "SINCE", "FAILED ATTEMPTS", "LIVE UPDATES", "LAST UPDATE")
		t.AddRow(info.State, formatTime(info.ChangedAt), info.Attempts, info.HasLiveUpdates, last)
	})
}

func (o *globalOptions) print(w io.Writer, v any, fill func(*uitable.Table)) error {
	if o.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	t := uitable.New()
	t.MaxColWidth = 40
	fill(t)
	_, err := fmt.Fprintln(w, t)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}
