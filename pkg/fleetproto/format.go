package fleetproto

import "fmt"

// ReplyKind selects the payload shape of FormatReply.
type ReplyKind int

const (
	ReplyData ReplyKind = iota
	ReplyAck
	ReplyOnOff
	ReplyTimeout
	ReplySent
	ReplyError
)

// FormatData renders a sensor reading as the byte-exact payload shared by
// READ, DUTY, STOP/OFF and ON/RAMP replies: duty as integer percent, voltage
// to 3 decimals, current (mA) to 2 decimals, power (mW) to 1 decimal.
func FormatData(duty int, voltsV float64, mAmps float64, mW float64) string {
	return fmt.Sprintf("D:%d%%,V:%.3fV,I:%.2fmA,P:%.1fmW", duty, voltsV, mAmps, mW)
}

// FormatReply renders one of the node->host reply frames.
func FormatReply(kind ReplyKind, nodeID int, args ...any) string {
	switch kind {
	case ReplyData:
		return fmt.Sprintf("NODE%d:DATA:%s", nodeID, args[0])
	case ReplyAck:
		return fmt.Sprintf("NODE%d:ACK:%d", nodeID, args[0])
	case ReplyOnOff:
		return fmt.Sprintf("NODE%d:ONOFF:%d", nodeID, args[0])
	case ReplyTimeout:
		return fmt.Sprintf("TIMEOUT:0x%04x", args[0])
	case ReplySent:
		return fmt.Sprintf("SENT:%s", args[0])
	case ReplyError:
		if len(args) > 1 {
			return fmt.Sprintf("ERROR:%s:%s", args[0], args[1])
		}
		return fmt.Sprintf("ERROR:%s", args[0])
	default:
		return ""
	}
}
