//go:build unix

package simlink

import (
	"os"
	"testing"
	"time"

	"go.bug.st/serial"
)

func TestPTYBidirectional(t *testing.T) {
	pty, err := OpenPTY()
	if err != nil {
		t.Fatalf("failed to create PTY: %v", err)
	}
	defer pty.Close()

	slave, err := os.OpenFile(pty.SlavePath, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("failed to open slave: %v", err)
	}
	defer slave.Close()

	testData := []byte("hello from master")
	if _, err := pty.Master.Write(testData); err != nil {
		t.Fatalf("failed to write to master: %v", err)
	}

	_ = slave.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 100)
	n, err := slave.Read(buf)
	if err != nil {
		t.Fatalf("failed to read from slave: %v", err)
	}
	if string(buf[:n]) != string(testData) {
		t.Errorf("master->slave: expected %q, got %q", testData, buf[:n])
	}

	testData2 := []byte("hello from slave")
	if _, err := slave.Write(testData2); err != nil {
		t.Fatalf("failed to write to slave: %v", err)
	}

	_ = pty.Master.SetReadDeadline(time.Now().Add(time.Second))
	buf2 := make([]byte, 100)
	n, err = pty.Master.Read(buf2)
	if err != nil {
		t.Fatalf("failed to read from master: %v", err)
	}
	if string(buf2[:n]) != string(testData2) {
		t.Errorf("slave->master: expected %q, got %q", testData2, buf2[:n])
	}
}

func TestPTYWithGoSerial(t *testing.T) {
	pty, err := OpenPTY()
	if err != nil {
		t.Fatalf("failed to create PTY: %v", err)
	}
	defer pty.Close()

	mode := &serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := serial.Open(pty.SlavePath, mode)
	if err != nil {
		t.Fatalf("failed to open serial port on slave: %v", err)
	}
	defer port.Close()
	_ = port.SetReadTimeout(100 * time.Millisecond)

	payload := []byte{0x94, 0xc3, 0x00, 0x02, 0x18, 0x01}
	if _, err := port.Write(payload); err != nil {
		t.Fatalf("failed to write via serial library: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	_ = pty.Master.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 100)
	n, err := pty.Master.Read(buf)
	if err != nil {
		t.Fatalf("failed to read from master: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), n)
	}
	for i := range payload {
		if buf[i] != payload[i] {
			t.Errorf("byte %d: expected 0x%02x, got 0x%02x", i, payload[i], buf[i])
		}
	}
}
