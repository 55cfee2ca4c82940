package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/robolink/pkg/l0/link"
	"github.com/robotalks/robolink/pkg/l0/protocol"
)

// Owner is the link owner of shell commands.
const Owner = "shell"

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell  *ishell.Shell
	Config *link.Config
	Link   *link.Link

	cancel func()
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&HealthCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *link.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Link == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// IntArg parses the n-th argument.
func IntArg(args []string, n int, name string) (int, error) {
	if len(args) <= n {
		return 0, fmt.Errorf("%s required", name)
	}
	val, err := strconv.Atoi(args[n])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return val, nil
}

// FormatResponse renders a response for display.
func FormatResponse(r *protocol.Response, asJSON bool) (string, error) {
	if !asJSON {
		return r.Raw, nil
	}
	var out interface{}
	switch {
	case r.Sensors != nil:
		out = r.Sensors
	case r.Status != nil:
		out = r.Status
	default:
		out = map[string]string{
			"kind":   r.Kind.String(),
			"tag":    r.Tag,
			"detail": r.Detail,
			"raw":    r.Raw,
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DoCommand sends a command and prints the response.
func DoCommand(c *ishell.Context, cmds ...protocol.Command) error {
	s := ShellFrom(c)
	return s.withSession(c, func(ctx context.Context, sess *link.Session) (*protocol.Response, error) {
		var r *protocol.Response
		var err error
		for _, cmd := range cmds {
			if r, err = sess.Send(ctx, cmd, 0); err != nil {
				break
			}
		}
		return r, err
	})
}

// DoLine sends a raw line and prints the response.
func DoLine(c *ishell.Context, line string) error {
	s := ShellFrom(c)
	return s.withSession(c, func(ctx context.Context, sess *link.Session) (*protocol.Response, error) {
		return sess.SendLine(ctx, line, 0)
	})
}

func (s *Shell) withSession(c *ishell.Context, fn func(context.Context, *link.Session) (*protocol.Response, error)) error {
	if s.Link == nil {
		err := fmt.Errorf("not connected")
		c.Err(err)
		return err
	}
	ctx := context.Background()
	sess, err := s.Link.Acquire(ctx, Owner)
	if err != nil {
		c.Err(err)
		return err
	}
	r, err := fn(ctx, sess)
	sess.Release()
	if err != nil && r == nil {
		c.Err(err)
		return err
	}
	out, fmtErr := FormatResponse(r, s.OutputJSON)
	if fmtErr != nil {
		c.Err(fmtErr)
		return fmtErr
	}
	c.Println(out)
	return err
}

// Connect opens the link and performs the handshake.
func (s *Shell) Connect() error {
	l, err := s.Config.Open()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	if err := l.Handshake(ctx); err != nil {
		cancel()
		l.Close()
		return fmt.Errorf("handshake: %w", err)
	}
	s.Disconnect()
	s.Link, s.cancel = l, cancel
	s.Shell.SetPrompt(l.Device() + " > ")
	return nil
}

// Disconnect closes the link.
func (s *Shell) Disconnect() {
	if s.Link != nil {
		s.Link.Close()
		s.cancel()
		s.Link, s.cancel = nil, nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.Interactive {
		s.Shell.Printf("Connecting %s ...\n", s.Config.Device)
	}
	if err := s.Connect(); err != nil {
		log.Fatalf("connect %q failed: %v", s.Config.Device, err)
	}
	defer s.Disconnect()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// ConnectCmd reconnects, optionally to another device.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[DEVICE]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) > 0 {
				s.Config.Device = c.Args[0]
			}
			if err := s.Connect(); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects the link.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// HealthCmd prints link statistics.
	HealthCmd = ishell.Cmd{
		Name: "health",
		Help: "",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			stats := s.Link.Stats()
			if s.OutputJSON {
				data, err := json.Marshal(map[string]interface{}{
					"healthy":   s.Link.Healthy(),
					"simulated": s.Link.Simulated(),
					"stats":     stats,
				})
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(data))
				return
			}
			state := "healthy"
			if !s.Link.Healthy() {
				state = "FAULT"
			}
			c.Printf("%s %s sent=%d answered=%d timeouts=%d discarded=%d flushes=%d\n",
				s.Link.Device(), state,
				stats.Sent, stats.Answered, stats.Timeouts, stats.Discarded, stats.Flushes)
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(link.NewConfig()).Run(flag.Args()...)
}
