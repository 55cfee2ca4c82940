// Package all registers all shell commands.
package all

import (
	_ "github.com/robotalks/robolink/pkg/cli/cmds/robot"
)
