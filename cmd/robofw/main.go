// robofw runs the firmware on a simulated board behind a serial device,
// e.g. one end of a socat PTY pair, so hosts can be tested without hardware.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/robolink/pkg/framework"
	"github.com/robotalks/robolink/pkg/l0/firmware"
	"github.com/robotalks/robolink/pkg/l0/link"
)

var (
	device   = "/dev/ttyS1"
	baud     = 115200
	distance = 100
	light    = 512
)

func init() {
	if val := os.Getenv("ROBOFW_SERIAL"); val != "" {
		device = val
	}
	flag.StringVar(&device, "serial", device, "Serial device to serve")
	flag.IntVar(&baud, "baud", baud, "Serial baud rate")
	flag.IntVar(&distance, "distance", distance, "Simulated obstacle distance in cm, 0 for no echo")
	flag.IntVar(&light, "light", light, "Simulated light level (0-1023)")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	port, err := link.OpenSerial(device, baud)
	if err != nil {
		log.Fatalln(err)
	}

	board := firmware.NewSimBoard()
	board.RealTime = true
	fw := firmware.New(board)
	if distance > 0 {
		board.SetDistance(fw.Pins.Echo, distance)
	}
	for _, pin := range fw.Pins.Light {
		board.SetAnalog(pin, light)
	}

	runner := framework.NewRunner().HandleSignals()
	runner.GoFunc("firmware", func(ctx context.Context) error {
		glog.Infof("firmware serving %s", port)
		return framework.RunWithContextCloser(ctx, port, func() error {
			return fw.Run(ctx, port)
		})
	})
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
