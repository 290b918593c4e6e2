package hostapp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetpower/dcmesh/pkg/fleetproto"
)

// Submit executes one interactive command line. Control-plane commands
// (threshold, priority) act on the Power Manager directly; data-plane
// commands (read, duty, stop) are rendered as wire commands and sent to the
// attached node. Raw target:verb lines pass through unchanged, so "1:duty:50"
// works the same from the command bar as from a script.
func (a *App) Submit(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty command")
	}

	switch strings.ToLower(fields[0]) {
	case "connect":
		if err := a.sup.Connect(ctx); err != nil {
			return "", err
		}
		return "connecting", nil

	case "disconnect":
		if err := a.conn.Close(); err != nil {
			return "", err
		}
		return "disconnected", nil

	case "read":
		if err := a.sup.SendCommand(ctx, fleetproto.GroupAddr, []byte("READ")); err != nil {
			return "", err
		}
		return "ALL:READ sent", nil

	case "duty":
		if len(fields) < 2 {
			return "", fmt.Errorf("usage: duty <pct>")
		}
		pct, err := strconv.Atoi(fields[1])
		if err != nil || pct < 0 || pct > 100 {
			return "", fmt.Errorf("duty must be an integer 0-100")
		}
		a.mgr.SetTargetDuty(0, pct, true)
		if err := a.sup.SendCommand(ctx, fleetproto.GroupAddr, []byte("DUTY:"+strconv.Itoa(pct))); err != nil {
			return "", err
		}
		return fmt.Sprintf("ALL:DUTY:%d sent", pct), nil

	case "stop":
		a.mgr.SetTargetDuty(0, 0, true)
		if err := a.sup.SendCommand(ctx, fleetproto.GroupAddr, []byte("STOP")); err != nil {
			return "", err
		}
		return "ALL:STOP sent", nil

	case "threshold":
		if len(fields) < 2 {
			return "", fmt.Errorf("usage: threshold <mW>|off")
		}
		if strings.EqualFold(fields[1], "off") {
			a.mgr.Disable()
			return "balancing disabled", nil
		}
		mw, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || mw <= 0 {
			return "", fmt.Errorf("threshold must be a positive number of milliwatts")
		}
		a.mgr.SetThreshold(mw)
		return fmt.Sprintf("threshold %.0f mW (budget %.0f mW)", mw, 0.9*mw), nil

	case "priority":
		if len(fields) < 2 {
			return "", fmt.Errorf("usage: priority <id>|off")
		}
		if strings.EqualFold(fields[1], "off") {
			a.mgr.ClearPriority()
			return "priority cleared", nil
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil || id < 0 {
			return "", fmt.Errorf("priority needs a node id")
		}
		a.mgr.SetPriority(id)
		return fmt.Sprintf("priority node %d", id), nil

	default:
		// Raw wire command, e.g. "1:duty:50" or "2:read".
		raw := strings.Join(fields, "")
		if _, err := fleetproto.ParseCommand([]byte(raw)); err != nil {
			return "", fmt.Errorf("unknown command %q", line)
		}
		if err := a.sup.SendRaw(ctx, []byte(raw)); err != nil {
			return "", err
		}
		return raw + " sent", nil
	}
}
