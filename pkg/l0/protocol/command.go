package protocol

import (
	"math"
	"strconv"
	"strings"
)

// Command is a single request line.
type Command struct {
	Verb Verb
	Arg  int
}

// NewCommand creates a command with the argument clamped to the verb range.
func NewCommand(verb Verb, arg int) Command {
	return Command{Verb: verb, Arg: verb.Clamp(arg)}
}

// Cmd creates a command without argument.
func Cmd(verb Verb) Command {
	return Command{Verb: verb}
}

// String renders the wire form without line terminator.
func (c Command) String() string {
	if c.Verb.HasArg() {
		return c.Verb.String() + ":" + strconv.Itoa(c.Arg)
	}
	return c.Verb.String()
}

// Line renders the wire form with line terminator.
func (c Command) Line() []byte {
	return []byte(c.String() + "\n")
}

// ParseCommand parses a received line the way the device does.
// The line is trimmed and upper-cased. Verbs taking an argument must be
// followed by ':', the argument itself is never rejected and parses with
// ToInt semantics, and it is NOT clamped.
func ParseCommand(line string) (Command, bool) {
	line = strings.ToUpper(strings.TrimSpace(line))
	name, arg := line, ""
	pos := strings.IndexByte(line, ':')
	if pos >= 0 {
		name, arg = line[:pos], line[pos+1:]
	}
	verb, ok := verbsByName[name]
	if !ok || verb.HasArg() != (pos >= 0) {
		return Command{}, false
	}
	cmd := Command{Verb: verb}
	if pos >= 0 {
		cmd.Arg = ToInt(arg)
	}
	return cmd, true
}

// ToInt converts a decimal prefix of s to an integer the way the
// microcontroller runtime does: leading blanks are skipped, an optional sign
// is accepted, parsing stops at the first non-digit and a string without
// digits yields 0. Values beyond 32 bits saturate.
func ToInt(s string) int {
	s = strings.TrimLeft(s, " \t\r\n")
	neg := false
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	var n int64
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int64(s[i]-'0')
		if n > math.MaxInt32 {
			n = math.MaxInt32 + 1
			break
		}
	}
	if neg {
		n = -n
		if n < math.MinInt32 {
			n = math.MinInt32
		}
	} else if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return int(n)
}
