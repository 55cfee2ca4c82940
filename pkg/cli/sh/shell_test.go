package sh

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/robolink/pkg/l0/protocol"
)

func TestIntArg(t *testing.T) {
	val, err := IntArg([]string{"120"}, 0, "SPEED")
	require.NoError(t, err)
	require.Equal(t, 120, val)

	_, err = IntArg(nil, 0, "SPEED")
	require.EqualError(t, err, "SPEED required")
	_, err = IntArg([]string{"fast"}, 0, "SPEED")
	require.Error(t, err)
}

func TestFormatResponse(t *testing.T) {
	r, err := protocol.ParseResponse(`SENSORS:{"distance":42,"light":[1,2,3,4],"timestamp":99}`)
	require.NoError(t, err)
	out, err := FormatResponse(r, false)
	require.NoError(t, err)
	require.Equal(t, r.Raw, out)

	out, err = FormatResponse(r, true)
	require.NoError(t, err)
	var reading protocol.SensorReading
	require.NoError(t, json.Unmarshal([]byte(out), &reading))
	require.Equal(t, 42, reading.Distance)

	r, err = protocol.ParseResponse("ACTION:SPEED_SET:120")
	require.NoError(t, err)
	out, err = FormatResponse(r, true)
	require.NoError(t, err)
	var fields map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &fields))
	require.Equal(t, map[string]string{
		"kind":   "ACTION",
		"tag":    "SPEED_SET",
		"detail": "120",
		"raw":    "ACTION:SPEED_SET:120",
	}, fields)
}
