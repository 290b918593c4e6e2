//go:build unix

package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetpower/dcmesh/internal/config"
	"github.com/fleetpower/dcmesh/pkg/fleetproto"
	"github.com/fleetpower/dcmesh/pkg/fleetproto/simlink"
)

func TestSerialConnectSendReceive(t *testing.T) {
	pty, err := simlink.OpenPTY()
	require.NoError(t, err)
	defer pty.Close()

	conn, err := NewSerial(config.SerialConfig{Port: pty.SlavePath, Baud: 115200})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, conn.Connect(ctx))
	defer conn.Close()

	require.True(t, conn.IsConnected())

	masterFramer := fleetproto.NewStreamFramer(pty.Master, pty.Master)
	go func() {
		_ = masterFramer.WritePacket([]byte("NODE2:DATA:50:12.1:820"))
	}()

	select {
	case msg := <-conn.Notifications():
		require.Equal(t, "NODE2:DATA:50:12.1:820", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	go func() {
		buf := make([]byte, 64)
		_, _ = pty.Master.Read(buf)
	}()

	require.NoError(t, conn.Send(ctx, []byte("1:DUTY:60")))
}

func TestSerialNameAndNotConnected(t *testing.T) {
	conn, err := NewSerial(config.SerialConfig{Port: "/dev/nonexistent", Baud: 115200})
	require.NoError(t, err)

	require.Equal(t, "serial:/dev/nonexistent", conn.Name())
	require.False(t, conn.IsConnected())

	err = conn.Send(context.Background(), []byte("1:READ"))
	require.Error(t, err)
}

func TestSerialFragmentedNotification(t *testing.T) {
	pty, err := simlink.OpenPTY()
	require.NoError(t, err)
	defer pty.Close()

	conn, err := NewSerial(config.SerialConfig{Port: pty.SlavePath, Baud: 115200})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, conn.Connect(ctx))
	defer conn.Close()

	full := "NODE3:DATA:75:11.9:1430:extra-padding-to-force-fragmentation"
	masterFramer := fleetproto.NewStreamFramer(pty.Master, pty.Master)
	go func() {
		for _, frame := range fleetproto.Fragment([]byte(full), fleetproto.MaxFrame) {
			_ = masterFramer.WritePacket(frame)
		}
	}()

	select {
	case msg := <-conn.Notifications():
		require.Equal(t, full, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reassembled notification")
	}
}
