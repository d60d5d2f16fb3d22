package main

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/gogpu/raytrace"
	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/hal/soft"
)

// renderFrames renders the scene and saves the last frame.
func renderFrames(ctx *cli.Context) error {
	logger := setupLogging(ctx)

	frames := ctx.Int("frames")
	if frames < 1 {
		return fmt.Errorf("frames must be positive, got %d", frames)
	}
	opts := []raytrace.Option{
		raytrace.WithViewport(uint32(ctx.Int("width")), uint32(ctx.Int("height"))),
		raytrace.WithFrameCount(ctx.Int("buffers")),
		raytrace.WithDebugLayer(ctx.Bool("debug")),
	}
	if d := ctx.Duration("timeout"); d > 0 {
		opts = append(opts, raytrace.WithFenceTimeout(d))
	}

	backend := ctx.String("backend")
	var (
		dev hal.Device
		rec *soft.Recorder
		err error
	)
	if backend == hal.BackendSoft {
		rec = &soft.Recorder{}
		dev = soft.NewDevice(ctx.Bool("debug"), soft.WithSink(rec))
	} else {
		dev, err = raytrace.OpenDevice(backend, opts...)
		if err != nil {
			return err
		}
	}
	defer dev.Destroy()

	switch path := ctx.String("shader"); {
	case path != "":
		opts = append(opts, raytrace.WithShaderPath(path))
	case rec != nil:
		opts = append(opts, raytrace.WithShaderLibrary(soft.DefaultLibrary().Encode()))
	}

	r, err := raytrace.New(dev, uintptr(ctx.Uint64("window")), opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	start := time.Now()
	for i := range frames {
		if err := r.Render(); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	if err := r.WaitIdle(); err != nil {
		return err
	}
	total := time.Since(start)
	printStats(r.Stats(), total)

	if rec == nil {
		logger.Info("rtdemo: backend has no readback, skipping image", "backend", backend)
		return nil
	}
	out := ctx.String("out")
	if err := savePNG(out, rec.Last()); err != nil {
		return err
	}
	logger.Info("rtdemo: frame saved", "path", out)
	return nil
}

// printStats writes the frame statistics as a table.
func printStats(s raytrace.Stats, total time.Duration) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Frames", "Last frame", "Average", "Fence value", "Next buffer"})
	avg := time.Duration(0)
	if s.Frames > 0 {
		avg = total / time.Duration(s.Frames)
	}
	table.Append([]string{
		fmt.Sprintf("%d", s.Frames),
		s.LastFrame.String(),
		avg.String(),
		fmt.Sprintf("%d", s.FenceValue),
		fmt.Sprintf("%d", s.FrameIndex),
	})
	table.SetFooter([]string{"", "", "", "TOTAL", total.String()})
	table.Render()
	fmt.Print(buf.String())
}

func savePNG(path string, img *image.RGBA) error {
	if img == nil {
		return fmt.Errorf("no frame was presented")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
