package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/robolink/pkg/framework"
	"github.com/robotalks/robolink/pkg/l1/env"
)

const shutdownTimeout = 5 * time.Second

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	e := env.MustNewConfig().MustNewEnv()

	// the link outlives the runner so the shutdown sequence can still
	// stop the motors.
	linkCtx, stopLink := context.WithCancel(context.Background())
	defer stopLink()
	go func() {
		if err := e.Link.Run(linkCtx); err != nil && err != context.Canceled {
			glog.Errorf("link: %v", err)
		}
	}()

	runner := framework.NewRunner().HandleSignals()
	if err := e.Manager.Init(runner.Context); err != nil {
		e.Link.Close()
		log.Fatalln(err)
	}
	glog.Infof("robot %s ready on %s (simulated=%v)", e.Sampler.Robot, e.Link.Device(), e.Link.Simulated())

	runner.Go(e.NewLoop())
	err := runner.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := e.Manager.Shutdown(ctx); shutdownErr != nil {
		glog.Errorf("shutdown: %v", shutdownErr)
	}
	if err != nil {
		log.Fatalln(err)
	}
}
