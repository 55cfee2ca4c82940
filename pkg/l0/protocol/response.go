package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Response prefixes and fixed lines.
const (
	ActionPrefix  = "ACTION:"
	SensorsPrefix = "SENSORS:"
	StatusPrefix  = "STATUS:"
	ErrorPrefix   = "ERROR:"

	Pong  = "PONG"
	Ready = "ARDUINO_READY"

	// CodeUnknownCommand is the error code for unrecognized lines.
	CodeUnknownCommand = "UNKNOWN_COMMAND"

	// NoEcho is the distance reported when ranging fails or is out of range.
	NoEcho = 400
)

// Kind classifies a response line.
type Kind int

// Response kinds.
const (
	KindUnknown Kind = iota
	KindAction
	KindSensors
	KindStatus
	KindPong
	KindReady
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "ACTION"
	case KindSensors:
		return "SENSORS"
	case KindStatus:
		return "STATUS"
	case KindPong:
		return "PONG"
	case KindReady:
		return "READY"
	case KindError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// SensorReading is the payload of SENSORS.
type SensorReading struct {
	Distance  int    `json:"distance"`
	Light     [4]int `json:"light"`
	Timestamp int64  `json:"timestamp"`
}

// StatusReport is the payload of STATUS.
type StatusReport struct {
	Speed      int   `json:"speed"`
	Uptime     int64 `json:"uptime"`
	FreeMemory int   `json:"free_memory"`
}

// Response is a decoded response line.
type Response struct {
	Kind Kind
	Raw  string
	// Tag is the ACTION tag or the ERROR code.
	Tag string
	// Detail is the text after the tag, without the separating ':'.
	Detail string

	Sensors *SensorReading
	Status  *StatusReport
}

// ParseResponse decodes a response line. Lines not following the protocol
// are returned as KindUnknown without error, an error is only reported when
// a recognized payload fails to decode.
func ParseResponse(line string) (*Response, error) {
	line = strings.TrimSpace(line)
	r := &Response{Raw: line}
	switch {
	case line == Pong:
		r.Kind = KindPong
	case line == Ready:
		r.Kind = KindReady
	case strings.HasPrefix(line, ActionPrefix):
		r.Kind = KindAction
		r.Tag, r.Detail = splitTag(line[len(ActionPrefix):])
	case strings.HasPrefix(line, ErrorPrefix):
		r.Kind = KindError
		r.Tag, r.Detail = splitTag(line[len(ErrorPrefix):])
	case strings.HasPrefix(line, SensorsPrefix):
		r.Kind = KindSensors
		r.Sensors = &SensorReading{}
		if err := json.Unmarshal([]byte(line[len(SensorsPrefix):]), r.Sensors); err != nil {
			return r, &MalformedError{Line: line, Err: err}
		}
	case strings.HasPrefix(line, StatusPrefix):
		r.Kind = KindStatus
		r.Status = &StatusReport{}
		if err := json.Unmarshal([]byte(line[len(StatusPrefix):]), r.Status); err != nil {
			return r, &MalformedError{Line: line, Err: err}
		}
	}
	return r, nil
}

func splitTag(s string) (string, string) {
	if pos := strings.IndexByte(s, ':'); pos >= 0 {
		return s[:pos], s[pos+1:]
	}
	return s, ""
}

// Answers tells whether the response is the reply produced for cmd.
func (r *Response) Answers(cmd Command) bool {
	switch r.Kind {
	case KindAction:
		return r.Tag != "" && r.Tag == cmd.Verb.AckTag()
	case KindSensors:
		return cmd.Verb == ReadSensors
	case KindStatus:
		return cmd.Verb == Status
	case KindPong:
		return cmd.Verb == Ping
	case KindError:
		return r.Rejects(cmd.String())
	}
	return false
}

// Rejects tells whether the response is the unknown command error for line.
func (r *Response) Rejects(line string) bool {
	return r.Kind == KindError && r.Tag == CodeUnknownCommand &&
		strings.EqualFold(r.Detail, strings.TrimSpace(line))
}

// Err converts an ERROR response into a *DeviceError, nil otherwise.
func (r *Response) Err() error {
	if r.Kind != KindError {
		return nil
	}
	return &DeviceError{Code: r.Tag, Detail: r.Detail}
}

// IntDetail parses the last ':' separated field of Detail.
func (r *Response) IntDetail() (int, bool) {
	s := r.Detail
	if pos := strings.LastIndexByte(s, ':'); pos >= 0 {
		s = s[pos+1:]
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func (r *Response) String() string {
	return r.Raw
}

// Ack formats an ACTION response.
func Ack(tag string, details ...interface{}) string {
	var sb strings.Builder
	sb.WriteString(ActionPrefix)
	sb.WriteString(tag)
	for _, d := range details {
		fmt.Fprintf(&sb, ":%v", d)
	}
	return sb.String()
}

// FormatSensors formats a SENSORS response.
func FormatSensors(reading SensorReading) string {
	data, _ := json.Marshal(&reading)
	return SensorsPrefix + string(data)
}

// FormatStatus formats a STATUS response.
func FormatStatus(report StatusReport) string {
	data, _ := json.Marshal(&report)
	return StatusPrefix + string(data)
}

// FormatUnknown formats the unknown command error echoing the original text.
func FormatUnknown(original string) string {
	return ErrorPrefix + CodeUnknownCommand + ":" + original
}
