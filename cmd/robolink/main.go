package main

import (
	"github.com/robotalks/robolink/pkg/cli/sh"
	"github.com/robotalks/robolink/pkg/l0/link"

	_ "github.com/robotalks/robolink/pkg/cli/cmds/all"
)

//go-build: CGO_ENABLED=0

func init() {
	link.SetupFlags()
}

func main() {
	sh.Main()
}
