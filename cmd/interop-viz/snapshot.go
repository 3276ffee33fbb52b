package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerolation/ethereum-interop-viz/internal/backend"
	"github.com/nerolation/ethereum-interop-viz/internal/logger"
	"github.com/nerolation/ethereum-interop-viz/internal/slots"
	"github.com/nerolation/ethereum-interop-viz/internal/utils"
	"github.com/nerolation/ethereum-interop-viz/internal/view"
	"github.com/nerolation/ethereum-interop-viz/internal/window"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Fetch one batch and print the windowed grid",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Keep stdout for the table.
		logger.SetOutput(os.Stderr)

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		api := backend.NewClient(cfg.Backend.URL, cfg.Backend.TimeoutDuration())

		clients, err := api.Clients(ctx)
		if err != nil {
			logger.Warn("CLI", "Client list unavailable, using defaults: %v", err)
			clients = cfg.Registry.DefaultClients
		}

		all, err := api.Slots(ctx, cfg.Poller.Network, cfg.Poller.BatchSize)
		if err != nil {
			return err
		}

		size := window.ClampSize(cfg.Poller.DefaultWindow, len(all), cfg.Poller.MaxWindow)
		display := window.Reduce(all, size)
		return printGrid(os.Stdout, cfg.Poller.Network, display, clients)
	},
}

func printGrid(out io.Writer, network string, display []slots.Slot, clients []string) error {
	rows := view.Project(display, clients)
	if len(rows) == 0 {
		_, err := fmt.Fprintf(out, "No slot data for %s\n", utils.DisplayName(network))
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := []string{utils.DisplayName(network)}
	for _, n := range slots.Numbers(display) {
		header = append(header, fmt.Sprintf("%d", n))
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, row := range rows {
		line := []string{row.Label}
		for _, c := range row.Cells {
			line = append(line, formatCell(c))
		}
		fmt.Fprintln(w, strings.Join(line, "\t"))
	}
	return w.Flush()
}

func formatCell(c view.Cell) string {
	if !c.Present {
		return "·"
	}
	secs := "-"
	if c.SecondsInSlot != nil {
		secs = utils.FormatSeconds(*c.SecondsInSlot, true)
	}
	s := fmt.Sprintf("%s %s", c.Status, secs)
	if c.ProposerBoost {
		s += " *"
	}
	if c.Diverged {
		s += " !"
	}
	return s
}
