/*Package cobolt enables control of Cobolt-style single frequency lasers over
RS232.

Commands are ASCII terminated by CRLF and every command is answered with one
line.  Set commands answer "OK".  The driver keeps its connection open between
Initialize and Shutdown.
*/
package cobolt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/nasa-jpl/ramanlab/comm"
)

const (
	// MaxPower is the largest power setpoint accepted, W
	MaxPower = 0.120

	// Baud is the serial rate used by the laser
	Baud = 112500
)

var (
	// FaultCodes maps fault codes reported by f? to their meaning
	FaultCodes = map[int]string{
		0: "no error",
		1: "temperature error",
		3: "remote interlock error",
		4: "constant power timeout",
	}
)

// Fault is a laser fault code
type Fault struct {
	Code int
}

// Error satisfies stdlib error interface
func (f Fault) Error() string {
	if s, ok := FaultCodes[f.Code]; ok {
		return fmt.Sprintf("laser fault %d - %s", f.Code, s)
	}
	return fmt.Sprintf("laser fault %d - UNKNOWN FAULT CODE", f.Code)
}

// CommandError is generated when a set command is not acknowledged
type CommandError struct {
	Cmd   string
	Reply string
}

// Error satisfies stdlib error interface
func (e *CommandError) Error() string {
	return fmt.Sprintf("cobolt: command %q answered %q", e.Cmd, e.Reply)
}

// clampPower limits a setpoint to [0, MaxPower]
func clampPower(w float64) float64 {
	if w > MaxPower {
		return MaxPower
	}
	if w < 0 {
		return 0
	}
	return w
}

// Laser is a Cobolt laser reached over a serial port or a terminal server
type Laser struct {
	comm.RemoteDevice
}

// NewLaser creates a new Laser instance.  addr is a port name such as
// /dev/ttyUSB0 when serial is true, or a host:port.
func NewLaser(addr string, serial bool) *Laser {
	l := &Laser{RemoteDevice: comm.NewRemoteDevice(addr, serial, makeSerConf(addr))}
	l.TxTerm = []byte("\r\n")
	l.RxTerm = '\n'
	return l
}

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        Baud,
		ReadTimeout: 1 * time.Second,
	}
}

func (l *Laser) query(cmd string) (string, error) {
	resp, err := l.SendRecv([]byte(cmd))
	if err != nil {
		return "", fmt.Errorf("cobolt: %s: %w", cmd, err)
	}
	return strings.TrimSpace(string(resp)), nil
}

func (l *Laser) set(cmd string) error {
	resp, err := l.query(cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(resp, "OK") {
		return &CommandError{Cmd: cmd, Reply: resp}
	}
	return nil
}

func (l *Laser) queryInt(cmd string) (int, error) {
	resp, err := l.query(cmd)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(resp)
}

// Initialize opens the connection.  A non-empty port replaces the address
// given to NewLaser.
func (l *Laser) Initialize(port string) error {
	if port != "" {
		l.Addr = port
		if l.SerialConf != nil {
			l.SerialConf.Name = port
		}
	}
	if l.Connected() {
		return nil
	}
	return l.Open()
}

// Restart forces a restart of the laser, including its warm-up
func (l *Laser) Restart() error {
	_, err := l.query("@cob1")
	return err
}

// Start restarts the laser and sets its output power
func (l *Laser) Start(watts float64) error {
	if err := l.Restart(); err != nil {
		return err
	}
	return l.SetPower(watts)
}

// SetPower enters constant power mode and sets the power setpoint.  The
// setpoint is clamped to [0, MaxPower].
func (l *Laser) SetPower(watts float64) error {
	if err := l.set("cp"); err != nil {
		return err
	}
	return l.set(fmt.Sprintf("p %.4f", clampPower(watts)))
}

// GetPower retrieves the measured output power in W
func (l *Laser) GetPower() (float64, error) {
	resp, err := l.query("pa?")
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// Stop sets the output power to zero, the laser stays on
func (l *Laser) Stop() error {
	return l.SetPower(0)
}

// Shutdown turns the laser off and closes the connection
func (l *Laser) Shutdown() error {
	if !l.Connected() {
		return nil
	}
	_, err := l.query("l0")
	cerr := l.Close()
	if err != nil {
		return err
	}
	return cerr
}

// GetFault returns the fault code, see FaultCodes
func (l *Laser) GetFault() (int, error) {
	return l.queryInt("f?")
}

// GetInterlockOpen returns true if the remote interlock is open
func (l *Laser) GetInterlockOpen() (bool, error) {
	i, err := l.queryInt("ilk?")
	return i != 0, err
}

// GetEmission returns true if the laser is on
func (l *Laser) GetEmission() (bool, error) {
	i, err := l.queryInt("l?")
	return i == 1, err
}

// SerialNumber returns the serial number of the laser head
func (l *Laser) SerialNumber() (string, error) {
	return l.query("gsn?")
}

// FaultError converts a fault code to an error
func (l *Laser) FaultError(code int) error {
	return Fault{Code: code}
}
