package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang/glog"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/robotalks/robolink/pkg/l0/link"
	"github.com/robotalks/robolink/pkg/l0/protocol"
	"github.com/robotalks/robolink/pkg/l1/telemetry"
)

// Owner is the link owner name of remote commands.
const Owner = "remote"

// Reply error tags for failures detected on the host.
const (
	ReplyTimeout = protocol.ErrorPrefix + "TIMEOUT"
	ReplyFault   = protocol.ErrorPrefix + "FAULT"
	ReplyClosed  = protocol.ErrorPrefix + "CLOSED"
	ReplyRefused = protocol.ErrorPrefix + "REFUSED"
	ReplyFailed  = protocol.ErrorPrefix + "FAILED"
)

// Commander executes commands on the device.
type Commander interface {
	Do(ctx context.Context, owner string, cmd protocol.Command) (*protocol.Response, error)
}

// Meta is published retained on <robot>/meta.
type Meta struct {
	Robot     string   `json:"robot"`
	Device    string   `json:"device"`
	Simulated bool     `json:"simulated"`
	Format    string   `json:"format"`
	Verbs     []string `json:"verbs"`
}

// Bridge publishes telemetry and executes remote commands.
type Bridge struct {
	Queue     *Queue
	Publisher Publisher
	Robot     string
	Format    telemetry.Format
	Device    Commander
	Meta      Meta
	// Allow vetoes a remote command, e.g. motion during an emergency stop, or
	// returns the command to run in place of it.
	Allow func(protocol.Command) (protocol.Command, error)
	// PublishTimeout bounds the wait for publish acknowledgement.
	PublishTimeout time.Duration
	// ConnectRetry is the interval between attempts of the first connect.
	ConnectRetry time.Duration

	cmdCh chan []byte
}

// NewBridge creates a Bridge connecting to brokerURL.
func NewBridge(brokerURL, robot string, device Commander) (*Bridge, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+robot+"/meta", nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("robolink:" + robot)
	}
	b := &Bridge{
		Queue:        NewQueue(opts, topicPrefix),
		Robot:        robot,
		Format:       telemetry.FormatProto,
		Device:       device,
		ConnectRetry: DefaultConnectRetry,
	}
	b.Publisher = b.Queue
	b.Queue.OnConnect = func(*Queue) { b.publishMeta() }
	return b, nil
}

// Topic returns the topic of a kind under the robot.
func (b *Bridge) Topic(kind string) string {
	return b.Robot + "/" + kind
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "mqtt"
}

// Publish implements telemetry.Sink.
func (b *Bridge) Publish(kind string, frame *structpb.Struct) error {
	payload, err := telemetry.Encode(frame, b.Format)
	if err != nil {
		return err
	}
	return b.wait(b.Publisher.PubWith(b.Topic(kind), payload, 0, false))
}

// Run implements Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	if b.cmdCh == nil {
		b.cmdCh = make(chan []byte, 16)
	}
	b.Queue.Sub(b.Topic("cmd"), b.handleCmd)
	if err := b.Queue.Connect(ctx, b.ConnectRetry); err != nil {
		return err
	}
	defer b.Queue.Close()
	for {
		select {
		case <-ctx.Done():
			b.Queue.PubWith(b.Topic("meta"), nil, 1, true).WaitTimeout(time.Second)
			return ctx.Err()
		case payload := <-b.cmdCh:
			b.reply(b.Execute(ctx, string(payload)))
		}
	}
}

func (b *Bridge) handleCmd(_ string, payload []byte) {
	select {
	case b.cmdCh <- payload:
	default:
		glog.Warningf("remote command dropped, queue full: %q", payload)
		b.reply(ReplyRefused + ":BUSY")
	}
}

// Execute runs one remote command and returns the reply line.
func (b *Bridge) Execute(ctx context.Context, line string) string {
	line = strings.TrimSpace(line)
	cmd, ok := protocol.ParseCommand(line)
	if !ok {
		return protocol.FormatUnknown(line)
	}
	cmd = protocol.NewCommand(cmd.Verb, cmd.Arg)
	if b.Allow != nil {
		var err error
		if cmd, err = b.Allow(cmd); err != nil {
			return ReplyRefused + ":" + err.Error()
		}
	}
	glog.V(2).Infof("remote %s", cmd)
	r, err := b.Device.Do(ctx, Owner, cmd)
	switch {
	case err == nil:
		return r.Raw
	case r != nil && r.Kind == protocol.KindError:
		return r.Raw
	case errors.Is(err, link.ErrFault):
		return ReplyFault
	case errors.Is(err, link.ErrTimeout):
		return ReplyTimeout
	case errors.Is(err, link.ErrClosed):
		return ReplyClosed
	}
	return ReplyFailed + ":" + err.Error()
}

func (b *Bridge) reply(line string) {
	if err := b.wait(b.Publisher.PubWith(b.Topic("reply"), []byte(line), 1, false)); err != nil {
		glog.Warningf("remote reply %q: %v", line, err)
	}
}

func (b *Bridge) publishMeta() {
	meta := b.Meta
	meta.Robot = b.Robot
	meta.Format = string(b.Format)
	if len(meta.Verbs) == 0 {
		for _, v := range protocol.Verbs() {
			meta.Verbs = append(meta.Verbs, v.String())
		}
	}
	payload, err := json.Marshal(&meta)
	if err != nil {
		glog.Errorf("encode meta: %v", err)
		return
	}
	b.Publisher.PubWith(b.Topic("meta"), payload, 1, true)
}

func (b *Bridge) wait(token interface {
	WaitTimeout(time.Duration) bool
	Error() error
}) error {
	timeout := b.PublishTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if !token.WaitTimeout(timeout) {
		return errors.New("publish timeout")
	}
	return token.Error()
}
