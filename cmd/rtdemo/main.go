// Command rtdemo renders the ray-traced triangle.
//
// The render command draws a number of frames on a HAL backend and writes
// the last presented frame to a PNG file:
//
//	rtdemo render -frames 10 -width 640 -height 480 -out frame.png
//
// The software backend needs no window. The d3d12 backend presents into the
// window passed with -window.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	_ "github.com/gogpu/raytrace/hal/d3d12"
	_ "github.com/gogpu/raytrace/hal/soft"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "rtdemo:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "rtdemo"
	app.Usage = "render a triangle with hardware ray tracing"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "render",
			Usage: "render frames and save the last one",
			Description: `
Open a device on the selected backend, build the acceleration structures,
pipeline and shader table, then render the requested number of frames.
The last presented frame is written as PNG when the backend can read it back.`,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "backend, b",
					Value: "soft",
					Usage: "HAL backend (empty picks the best available)",
				},
				cli.IntFlag{
					Name:  "frames, n",
					Value: 3,
					Usage: "number of frames to render",
				},
				cli.IntFlag{
					Name:  "width",
					Value: 640,
					Usage: "frame width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 480,
					Usage: "frame height",
				},
				cli.IntFlag{
					Name:  "buffers",
					Value: 2,
					Usage: "swap chain buffer count",
				},
				cli.StringFlag{
					Name:  "shader",
					Usage: "compiled shader library (defaults to the built-in library on the soft backend)",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.png",
					Usage: "image filename for the last frame",
				},
				cli.Uint64Flag{
					Name:  "window",
					Usage: "native window handle to present into",
				},
				cli.DurationFlag{
					Name:  "timeout",
					Usage: "fence wait timeout (0 waits forever)",
				},
				cli.BoolFlag{
					Name:  "debug",
					Usage: "enable the backend validation layer",
				},
			},
			Action: renderFrames,
		},
		{
			Name:   "devices",
			Usage:  "list registered HAL backends",
			Action: listDevices,
		},
	}
	return app
}
