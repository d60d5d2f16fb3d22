package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/gogpu/raytrace/hal"
)

// listDevices prints every registered backend and what opening it yields.
func listDevices(ctx *cli.Context) error {
	logger := setupLogging(ctx)

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Backend", "Adapter", "Ray tracing tier", "Status"})

	for _, name := range hal.Available() {
		b := hal.Get(name)
		if b == nil {
			continue
		}
		dev, err := b.Open(hal.OpenOptions{})
		if err != nil {
			status := "unavailable"
			if errors.Is(err, hal.ErrNotInstalled) {
				status = "not installed"
			}
			logger.Debug("rtdemo: open backend", "backend", name, "err", err)
			table.Append([]string{name, "-", "-", status})
			continue
		}
		f := dev.Features()
		status := "ok"
		if f.RaytracingTier < hal.RaytracingTier1_0 {
			status = "no ray tracing"
		}
		table.Append([]string{name, f.AdapterName, f.RaytracingTier.String(), status})
		dev.Destroy()
	}
	table.Render()
	_, err := fmt.Fprint(os.Stdout, buf.String())
	return err
}
