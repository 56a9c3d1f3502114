package cobolt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// ErrNotInitialized is generated when the mock is used before Initialize
var ErrNotInitialized = errors.New("cobolt: laser not initialized")

// Mock is an in-memory laser.  Its interlock key starts closed and it has
// no fault.  It can also answer the serial command set, see Handle.
type Mock struct {
	mu          sync.Mutex
	initialized bool
	on          bool
	setpoint    float64
	interlock   bool // true when open
	fault       int
	port        string
	history     []string
}

// NewMock returns a new mock laser
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) record(format string, args ...interface{}) {
	m.history = append(m.history, fmt.Sprintf(format, args...))
}

// TurnKey closes (true) or opens (false) the interlock
func (m *Mock) TurnKey(closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interlock = !closed
}

// InjectFault makes the laser report code from now on.  Zero clears it.
func (m *Mock) InjectFault(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = code
}

// Setpoint returns the power setpoint, W
func (m *Mock) Setpoint() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setpoint
}

// Port returns the port given to Initialize
func (m *Mock) Port() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}

// History returns the calls made on the mock, oldest first
func (m *Mock) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

// Initialize satisfies laser.Source
func (m *Mock) Initialize(port string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	m.port = port
	m.record("initialize %s", port)
	return nil
}

// Start satisfies laser.Source
func (m *Mock) Start(watts float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	m.on = true
	m.setpoint = clampPower(watts)
	m.record("start %.4f", m.setpoint)
	return nil
}

// SetPower satisfies laser.Source
func (m *Mock) SetPower(watts float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	m.setpoint = clampPower(watts)
	m.record("power %.4f", m.setpoint)
	return nil
}

func (m *Mock) output() float64 {
	if !m.on || m.interlock || m.fault != 0 {
		return 0
	}
	return m.setpoint
}

// GetPower satisfies laser.Source.  The output is zero while the laser is
// off, faulted, or the interlock is open.
func (m *Mock) GetPower() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return 0, ErrNotInitialized
	}
	return m.output(), nil
}

// Stop satisfies laser.Source
func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	m.setpoint = 0
	m.record("stop")
	return nil
}

// Shutdown satisfies laser.Source
func (m *Mock) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = false
	m.initialized = false
	m.record("shutdown")
	return nil
}

// GetFault satisfies laser.Source
func (m *Mock) GetFault() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return 0, ErrNotInitialized
	}
	return m.fault, nil
}

// GetInterlockOpen satisfies laser.Source
func (m *Mock) GetInterlockOpen() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return false, ErrNotInitialized
	}
	return m.interlock, nil
}

// GetEmission satisfies laser.EmissionReader
func (m *Mock) GetEmission() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on, nil
}

// FaultError satisfies laser.FaultDescriber
func (m *Mock) FaultError(code int) error {
	return Fault{Code: code}
}

func boolToASCII(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Handle answers one line of the serial command set
func (m *Mock) Handle(line string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	line = strings.TrimSpace(line)
	m.record("> %s", line)
	switch {
	case line == "@cob1":
		m.on = true
		return "OK"
	case line == "f?":
		return strconv.Itoa(m.fault)
	case line == "ilk?":
		return boolToASCII(m.interlock)
	case line == "cp":
		return "OK"
	case line == "pa?":
		return strconv.FormatFloat(m.output(), 'f', 4, 64)
	case line == "p?":
		return strconv.FormatFloat(m.setpoint, 'f', 4, 64)
	case line == "l?":
		return boolToASCII(m.on)
	case line == "l0":
		m.on = false
		return "OK"
	case line == "l1":
		m.on = true
		return "OK"
	case line == "gsn?":
		return "MOCK00001"
	case strings.HasPrefix(line, "p "):
		f, err := strconv.ParseFloat(strings.TrimSpace(line[2:]), 64)
		if err != nil || f < 0 || f > MaxPower {
			return "Syntax error: value out of range"
		}
		m.setpoint = f
		return "OK"
	}
	return "Syntax error: illegal command"
}

// Serve answers CRLF terminated commands read from rw until it is closed
func (m *Mock) Serve(rw io.ReadWriter) error {
	s := bufio.NewScanner(rw)
	for s.Scan() {
		reply := m.Handle(s.Text())
		if _, err := io.WriteString(rw, reply+"\r\n"); err != nil {
			return err
		}
	}
	return s.Err()
}
