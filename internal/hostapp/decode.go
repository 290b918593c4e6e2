package hostapp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetpower/dcmesh/internal/powermanager"
)

// decodeReading parses one NODE<id>:DATA:D:%d%%,V:%.3fV,I:%.2fmA,P:%.1fmW
// notification (the inverse of fleetproto.FormatData/FormatReply) into a
// powermanager.Reading. Any other notification shape (ACK, ONOFF, TIMEOUT,
// SENT, ERROR) is not a reading and returns ok=false.
func decodeReading(msg []byte, generation int) (powermanager.Reading, bool) {
	s := string(msg)

	rest, ok := strings.CutPrefix(s, "NODE")
	if !ok {
		return powermanager.Reading{}, false
	}
	idStr, rest, ok := strings.Cut(rest, ":DATA:")
	if !ok {
		return powermanager.Reading{}, false
	}
	nodeID, err := strconv.Atoi(idStr)
	if err != nil {
		return powermanager.Reading{}, false
	}

	// D, V, I, P. The trailing P field is carried on the wire but never
	// trusted: power is recomputed from the V/I pair on the host.
	fields := strings.Split(rest, ",")
	if len(fields) != 4 {
		return powermanager.Reading{}, false
	}

	duty, err := parseField(fields[0], "D:", "%")
	if err != nil {
		return powermanager.Reading{}, false
	}
	volts, err := parseFieldFloat(fields[1], "V:", "V")
	if err != nil {
		return powermanager.Reading{}, false
	}
	current, err := parseFieldFloat(fields[2], "I:", "mA")
	if err != nil {
		return powermanager.Reading{}, false
	}

	return powermanager.Reading{
		NodeID:     nodeID,
		Duty:       int(duty),
		VoltageV:   volts,
		CurrentMA:  current,
		Generation: generation,
	}, true
}

func parseField(field, prefix, suffix string) (int64, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(field, prefix), suffix)
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid field %q: %w", field, err)
	}
	return n, nil
}

func parseFieldFloat(field, prefix, suffix string) (float64, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(field, prefix), suffix)
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid field %q: %w", field, err)
	}
	return f, nil
}
