package fleetproto

import (
	"fmt"
	"strconv"
	"strings"
)

// Verb is a command executor verb from the ASCII grammar.
type Verb string

const (
	VerbRead    Verb = "READ"
	VerbDuty    Verb = "DUTY"
	VerbRamp    Verb = "RAMP"
	VerbStop    Verb = "STOP"
	VerbOn      Verb = "ON"
	VerbOff     Verb = "OFF"
	VerbMonitor Verb = "MONITOR"
)

// node-native short forms, also used as the mesh CMD payload itself (mesh
// addressing already conveys the target, so mesh frames never carry the
// target:verb form). ParseCommand accepts them from every caller, including
// the host bridge, where a short form acts on the bridging node itself.
var shortForms = map[string]Verb{
	"r":       VerbRead,
	"s":       VerbStop,
	"read":    VerbRead,
	"stop":    VerbStop,
	"on":      VerbOn,
	"off":     VerbOff,
	"ramp":    VerbRamp,
	"monitor": VerbMonitor,
}

// Command is a parsed instance of the wire grammar:
//
//	command := target ':' verb (':' value)?
//	target  := NODE_ID | 'ALL'
//	verb    := 'READ' | 'DUTY' | 'RAMP' | 'STOP' | 'ON' | 'OFF' | 'MONITOR'
//	value   := integer   -- only for DUTY, percent 0-100
type Command struct {
	TargetAll bool
	NodeID    int // meaningful only when !TargetAll; 0 means "this node"
	Verb      Verb
	Value     int
	HasValue  bool
}

// wireError is a sentinel error whose Error() text is itself a byte-exact
// ERROR:* reply payload, so the executor can echo err.Error() directly.
type wireError string

func (e wireError) Error() string { return string(e) }

var (
	ErrNoNodeID  = wireError("ERROR:NO_NODE_ID")
	ErrNoCommand = wireError("ERROR:NO_COMMAND")
)

// errUnknownCmd carries the offending verb as a detail suffix, so it is built
// per-call rather than declared as a package-level sentinel; errInvalidNode
// has no suffix and is built the same way.
func errInvalidNode() error {
	return wireError("ERROR:INVALID_NODE")
}

func errUnknownCmd(verb string) error {
	return wireError(fmt.Sprintf("ERROR:UNKNOWN_CMD:%s", strings.ToUpper(verb)))
}

// ParseCommand implements the grammar above exactly: case-insensitive,
// whitespace-insensitive, with node-native short forms (bare integer aliased
// to duty:N, "r"/"s" aliased to read/stop) accepted as well; a short form
// parses as a command for this node, whoever the caller is.
func ParseCommand(raw []byte) (Command, error) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return Command{}, ErrNoCommand
	}

	if n, err := strconv.Atoi(line); err == nil {
		return Command{Verb: VerbDuty, Value: n, HasValue: true}, nil
	}
	if v, ok := shortForms[strings.ToLower(line)]; ok {
		return Command{Verb: v}, nil
	}
	if dutyN, ok := strings.CutPrefix(strings.ToLower(line), "duty:"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(dutyN))
		if err != nil {
			return Command{}, errInvalidNode()
		}
		return Command{Verb: VerbDuty, Value: n, HasValue: true}, nil
	}

	parts := strings.Split(line, ":")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 2 {
		return Command{}, ErrNoNodeID
	}

	cmd := Command{}
	target := strings.ToUpper(parts[0])
	if target == "ALL" {
		cmd.TargetAll = true
	} else {
		id, err := strconv.Atoi(target)
		if err != nil {
			return Command{}, errInvalidNode()
		}
		cmd.NodeID = id
	}

	verb := Verb(strings.ToUpper(parts[1]))
	switch verb {
	case VerbRead, VerbDuty, VerbRamp, VerbStop, VerbOn, VerbOff, VerbMonitor:
		cmd.Verb = verb
	default:
		return Command{}, errUnknownCmd(parts[1])
	}

	if verb == VerbDuty {
		if len(parts) < 3 {
			return Command{}, errInvalidNode()
		}
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			return Command{}, errInvalidNode()
		}
		cmd.Value = n
		cmd.HasValue = true
	}

	return cmd, nil
}
