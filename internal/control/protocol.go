// Package control implements plexy's line-based text control protocol,
// grounded on original_source src/controller.rs and
// src/controller/protocol.rs. One line in, one line out: a human can drive
// it with `nc` or `socat` as easily as a script can.
package control

import (
	"fmt"
	"strings"
)

// Command is one parsed control-protocol request line.
type Command struct {
	Verb string // OPEN, CLOSE, STATUS, LIST, ADD_REMOTE, REMOVE_REMOTE, HELP, EXIT
	Arg  string // remaining text, verb-specific
}

// ParseCommand parses one input line. Verbs are case-insensitive; the
// argument (if any) is everything after the first space, with surrounding
// whitespace trimmed and otherwise untouched, since OPEN's argument is
// itself a tunnel-spec string that may contain '='.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, fmt.Errorf("empty command")
	}
	fields := strings.SplitN(line, " ", 2)
	verb := strings.ToUpper(fields[0])
	arg := ""
	if len(fields) == 2 {
		arg = strings.TrimSpace(fields[1])
	}
	switch verb {
	case "OPEN", "CLOSE", "STATUS", "LIST", "ADD_REMOTE", "REMOVE_REMOTE", "HELP", "EXIT":
		return Command{Verb: verb, Arg: arg}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

// helpText is returned verbatim for HELP, one command per line.
const helpText = `OPEN <local>=<remote>(,<remote>)*[options]  open a new tunnel
CLOSE <local>                               close a tunnel
STATUS [<local>]                            show stats for one or all tunnels
LIST                                        list every open tunnel's local address
ADD_REMOTE <local> <remote>                 attach a remote to a running tunnel
REMOVE_REMOTE <local> <remote>              detach a remote from a running tunnel
HELP                                        show this text
EXIT                                        close the connection`
