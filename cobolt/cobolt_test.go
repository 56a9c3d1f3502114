package cobolt_test

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ramanlab/cobolt"
	"github.com/nasa-jpl/ramanlab/comm"
	"github.com/nasa-jpl/ramanlab/generichttp/laser"
)

var (
	_ laser.Source         = (*cobolt.Laser)(nil)
	_ laser.Source         = (*cobolt.Mock)(nil)
	_ laser.EmissionReader = (*cobolt.Laser)(nil)
	_ laser.FaultDescriber = (*cobolt.Mock)(nil)
)

// serveMock exposes a mock on a loopback TCP port, the way a terminal
// server exposes the RS232 port of a real laser
func serveMock(t *testing.T, m *cobolt.Mock) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				m.Serve(conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestLaserOverTCP(t *testing.T) {
	m := cobolt.NewMock()
	l := cobolt.NewLaser(serveMock(t, m), false)
	require.NoError(t, l.Initialize(""))
	defer l.Shutdown()

	require.NoError(t, l.Start(0.05))
	p, err := l.GetPower()
	require.NoError(t, err)
	assert.InDelta(t, 0.05, p, 1e-9)

	on, err := l.GetEmission()
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, l.SetPower(1))
	assert.Equal(t, cobolt.MaxPower, m.Setpoint())

	require.NoError(t, l.Stop())
	assert.Equal(t, 0., m.Setpoint())

	sn, err := l.SerialNumber()
	require.NoError(t, err)
	assert.Equal(t, "MOCK00001", sn)
}

func TestLaserReportsFaultAndInterlock(t *testing.T) {
	m := cobolt.NewMock()
	l := cobolt.NewLaser(serveMock(t, m), false)
	require.NoError(t, l.Initialize(""))
	defer l.Shutdown()

	code, err := l.GetFault()
	require.NoError(t, err)
	assert.Zero(t, code)

	m.InjectFault(4)
	m.TurnKey(false)
	code, err = l.GetFault()
	require.NoError(t, err)
	assert.Equal(t, 4, code)
	open, err := l.GetInterlockOpen()
	require.NoError(t, err)
	assert.True(t, open)

	var f cobolt.Fault
	require.True(t, errors.As(l.FaultError(code), &f))
	assert.Contains(t, f.Error(), "constant power timeout")
}

func TestShutdownTurnsOff(t *testing.T) {
	m := cobolt.NewMock()
	l := cobolt.NewLaser(serveMock(t, m), false)
	require.NoError(t, l.Initialize(""))
	require.NoError(t, l.Start(0.01))
	require.NoError(t, l.Shutdown())
	on, _ := m.GetEmission()
	assert.False(t, on)
	assert.False(t, l.Connected())
}

func TestShutdownWhileReadingPower(t *testing.T) {
	m := cobolt.NewMock()
	l := cobolt.NewLaser(serveMock(t, m), false)
	require.NoError(t, l.Initialize(""))
	require.NoError(t, l.Start(0.01))

	// status readers keep polling while the session shuts the laser down
	var wg sync.WaitGroup
	wg.Add(1)
	var last error
	go func() {
		defer wg.Done()
		for {
			if _, last = l.GetPower(); last != nil {
				return
			}
		}
	}()
	require.NoError(t, l.Shutdown())
	wg.Wait()
	assert.ErrorIs(t, last, comm.ErrNotConnected)
	assert.False(t, l.Connected())
}

func TestMockNeedsInitialize(t *testing.T) {
	m := cobolt.NewMock()
	assert.ErrorIs(t, m.Start(0.01), cobolt.ErrNotInitialized)
	require.NoError(t, m.Initialize("COM3"))
	assert.Equal(t, "COM3", m.Port())
	require.NoError(t, m.Start(0.2))
	assert.Equal(t, cobolt.MaxPower, m.Setpoint())

	m.TurnKey(false)
	p, err := m.GetPower()
	require.NoError(t, err)
	assert.Zero(t, p, "no output through an open interlock")
}

func TestFaultText(t *testing.T) {
	assert.Equal(t, "laser fault 1 - temperature error", cobolt.Fault{Code: 1}.Error())
	assert.Contains(t, cobolt.Fault{Code: 9}.Error(), "UNKNOWN")
}
