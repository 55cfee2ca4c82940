package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

const robotIDLen = 12

// MachineID retrieves the ID identifying the robot, derived from the machine
// ID so it does not leak it. The host name is used when the machine ID is
// not available.
func MachineID() string {
	id, err := machineid.ProtectedID("robolink")
	if err != nil {
		glog.Warningf("machine id: %v", err)
		if id, err = os.Hostname(); err != nil {
			return "robot"
		}
		return id
	}
	if len(id) > robotIDLen {
		id = id[:robotIDLen]
	}
	return id
}
