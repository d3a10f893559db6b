package runners

import (
	"fmt"
	"slices"
	"strings"
)

// Command is one of the fixed dispatch commands a runner may support.
type Command string

const (
	Flash       Command = "flash"
	Debug       Command = "debug"
	DebugServer Command = "debugserver"
	Attach      Command = "attach"
)

// Commands lists every dispatch command in help order.
var Commands = []Command{Flash, Debug, DebugServer, Attach}

// ParseCommand maps a command name to a Command.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Commands, c) {
		return "", fmt.Errorf("unknown command %q", s)
	}
	return c, nil
}

// Capabilities declares what a runner type supports. It is fixed at
// registration and consulted before any instance exists.
type Capabilities struct {
	Commands  []Command
	FlashAddr bool // honours --flash-addr
	Erase     bool // honours --erase
}

// Supports reports whether cmd is among the declared commands.
func (c Capabilities) Supports(cmd Command) bool {
	return slices.Contains(c.Commands, cmd)
}

func (c Capabilities) String() string {
	names := make([]string, 0, len(c.Commands))
	for _, cmd := range Commands {
		if c.Supports(cmd) {
			names = append(names, string(cmd))
		}
	}
	s := "commands=" + strings.Join(names, ",")
	if c.FlashAddr {
		s += " flash-addr"
	}
	if c.Erase {
		s += " erase"
	}
	return s
}
