// Package telemetry samples the controllers and fans frames out to sinks.
//
// A frame is a structpb.Struct:
//
//	{"kind": "sensors", "robot": "<id>", "time": <unix ms>, "data": {...}}
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
)

// Frame kinds.
const (
	KindSensors = "sensors"
	KindStatus  = "status"
	KindSafety  = "safety"
)

// Format is the wire encoding of a frame.
type Format string

// Formats.
const (
	FormatProto Format = "proto"
	FormatJSON  Format = "json"
)

// String implements flag.Value.
func (f *Format) String() string {
	return string(*f)
}

// Set implements flag.Value.
func (f *Format) Set(val string) error {
	switch v := Format(strings.ToLower(val)); v {
	case FormatProto, FormatJSON:
		*f = v
		return nil
	}
	return fmt.Errorf("invalid telemetry format %q, expect proto or json", val)
}

// NewFrame wraps data, any JSON encodable value, into a frame.
func NewFrame(kind, robot string, t time.Time, data interface{}) (*structpb.Struct, error) {
	envelope := map[string]interface{}{
		"kind":  kind,
		"robot": robot,
		"time":  t.UnixNano() / int64(time.Millisecond),
		"data":  data,
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	var frame structpb.Struct
	if err := jsonpb.Unmarshal(bytes.NewReader(encoded), &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// Kind returns the kind field of a frame.
func Kind(frame *structpb.Struct) string {
	if v, ok := frame.GetFields()["kind"]; ok {
		return v.GetStringValue()
	}
	return ""
}

// Data returns the data field of a frame.
func Data(frame *structpb.Struct) *structpb.Struct {
	if v, ok := frame.GetFields()["data"]; ok {
		return v.GetStructValue()
	}
	return nil
}

// Number returns a numeric field of s.
func Number(s *structpb.Struct, name string) (float64, bool) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}

// Encode serializes a frame.
func Encode(frame *structpb.Struct, format Format) ([]byte, error) {
	if format == FormatJSON {
		s, err := (&jsonpb.Marshaler{}).MarshalToString(frame)
		return []byte(s), err
	}
	return proto.Marshal(frame)
}

// Decode parses a frame.
func Decode(payload []byte, format Format) (*structpb.Struct, error) {
	var frame structpb.Struct
	var err error
	if format == FormatJSON {
		err = jsonpb.Unmarshal(bytes.NewReader(payload), &frame)
	} else {
		err = proto.Unmarshal(payload, &frame)
	}
	if err != nil {
		return nil, err
	}
	return &frame, nil
}

// DecodeAny tries JSON for payloads looking like an object, protobuf otherwise.
func DecodeAny(payload []byte) (*structpb.Struct, Format, error) {
	if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && trimmed[0] == '{' {
		if frame, err := Decode(trimmed, FormatJSON); err == nil {
			return frame, FormatJSON, nil
		}
	}
	frame, err := Decode(payload, FormatProto)
	return frame, FormatProto, err
}

// JSON renders a frame as JSON text.
func JSON(frame *structpb.Struct) string {
	s, err := (&jsonpb.Marshaler{}).MarshalToString(frame)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return s
}
