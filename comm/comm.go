/*Package comm provides an embeddable type for communication with lab hardware
over RS232 or TCP.

Most usages of this package will boil down to:
	1.  embed RemoteDevice in a type that represents your hardware.
	2.  set TxTerm and RxTerm if the device does not use carriage returns
	3.  write methods for the device's commands on top of SendRecv

A minimal example for a sensor that responds to "RD?" with a reading:

	type MySensor struct {
		comm.RemoteDevice
	}

	func (ms *MySensor) Read() (float64, error) {
		resp, err := ms.OpenSendRecvClose([]byte("RD?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const (
	// DefaultTimeout is used for TCP connects, reads and writes when
	// RemoteDevice.Timeout is zero
	DefaultTimeout = 3 * time.Second
)

var (
	terminator = byte('\r')

	// ErrNoSerialConf is generated when IsSerial is true and SerialConf is nil
	ErrNoSerialConf = errors.New("comm: device is serial but SerialConf is nil")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("comm: conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("comm: termination byte not found")
)

/*RemoteDevice has an address and can open a connection to it, send commands and
receive responses.

If IsSerial is true, SerialConf must be populated.  Addr is then ignored in
favor of SerialConf.Name, unless the name is empty.

The device is concurrent safe when used through Open, Close, Connected,
OpenSendRecvClose and SendRecv, which share an internal lock; an exchange
holds it from Send to Recv.  Send and Recv alone do not lock.
*/
type RemoteDevice struct {
	// Addr is a host:port for TCP devices or a port name for serial devices
	Addr string

	// IsSerial selects RS232 over TCP
	IsSerial bool

	// SerialConf configures the port when IsSerial is true
	SerialConf *serial.Config

	// Timeout bounds TCP connects and each exchange
	Timeout time.Duration

	// TxTerm is appended to every command, a carriage return if nil
	TxTerm []byte

	// RxTerm ends every response, a carriage return if zero
	RxTerm byte

	// Conn is the open connection, nil when closed
	Conn io.ReadWriteCloser

	rdr *bufio.Reader
	mu  sync.Mutex
}

// NewRemoteDevice creates a new RemoteDevice instance.  conf may be nil for
// TCP devices.
func NewRemoteDevice(addr string, isSerial bool, conf *serial.Config) RemoteDevice {
	return RemoteDevice{
		Addr:       addr,
		IsSerial:   isSerial,
		SerialConf: conf}
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout == 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

// Open the connection, setting the Conn variable.  Connection attempts are
// retried with exponential backoff for up to three seconds; serial adapters
// and terminal servers do not like being connection thrashed.  A connection
// that is already open is closed first.
func (rd *RemoteDevice) Open() error {
	conn, err := rd.connect()
	if err != nil {
		return err
	}
	rd.mu.Lock()
	defer rd.mu.Unlock()
	rd.close()
	rd.attach(conn)
	return nil
}

func (rd *RemoteDevice) connect() (io.ReadWriteCloser, error) {
	var (
		conn io.ReadWriteCloser
		last error
	)
	op := func() error {
		conn, last = rd.dial()
		return last
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, fmt.Errorf("comm: opening %s: %w", rd.name(), last)
	}
	return conn, nil
}

func (rd *RemoteDevice) name() string {
	if rd.IsSerial && rd.SerialConf != nil && rd.SerialConf.Name != "" {
		return rd.SerialConf.Name
	}
	return rd.Addr
}

func (rd *RemoteDevice) dial() (io.ReadWriteCloser, error) {
	if rd.IsSerial {
		if rd.SerialConf == nil {
			return nil, ErrNoSerialConf
		}
		conf := *rd.SerialConf
		if conf.Name == "" {
			conf.Name = rd.Addr
		}
		return serial.OpenPort(&conf)
	}
	return TCPSetup(rd.Addr, rd.timeout())
}

// attach and close expect rd.mu to be held
func (rd *RemoteDevice) attach(conn io.ReadWriteCloser) {
	rd.Conn = conn
	rd.rdr = bufio.NewReader(conn)
}

func (rd *RemoteDevice) close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.rdr = nil
	return err
}

// Close the connection, nil-ing the Conn variable.  An exchange in progress
// finishes first.
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.close()
}

// Connected returns true if the connection is open
func (rd *RemoteDevice) Connected() bool {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.Conn != nil
}

// TxTerminator returns the transmission terminator
func (rd *RemoteDevice) TxTerminator() []byte {
	if rd.TxTerm == nil {
		return []byte{terminator}
	}
	return rd.TxTerm
}

// RxTerminator returns the receipt termination byte
func (rd *RemoteDevice) RxTerminator() byte {
	if rd.RxTerm == 0 {
		return terminator
	}
	return rd.RxTerm
}

// Send writes data to the remote, followed by the Tx terminator.  It does not
// lock the device.
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	if c, ok := rd.Conn.(net.Conn); ok {
		c.SetDeadline(time.Now().Add(rd.timeout()))
	}
	buf := make([]byte, 0, len(b)+2)
	buf = append(buf, b...)
	buf = append(buf, rd.TxTerminator()...)
	_, err := rd.Conn.Write(buf)
	return err
}

// Recv receives data from the remote and strips the Rx terminator and any
// carriage return before it
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	term := rd.RxTerminator()
	buf, err := rd.rdr.ReadBytes(term)
	if err != nil {
		if len(buf) > 0 && err == io.EOF {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	buf = bytes.TrimSuffix(buf, []byte{term})
	buf = bytes.TrimSuffix(buf, []byte{'\r'})
	return buf, nil
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.sendRecv(b)
}

func (rd *RemoteDevice) sendRecv(b []byte) ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	err := rd.Send(b)
	if err != nil {
		return nil, err
	}
	return rd.Recv()
}

// OpenSendRecvClose opens a connection if one is not open, performs one
// exchange and closes the connection again if it opened it
func (rd *RemoteDevice) OpenSendRecvClose(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn != nil {
		return rd.sendRecv(b)
	}
	conn, err := rd.connect()
	if err != nil {
		return nil, err
	}
	rd.attach(conn)
	defer rd.close()
	return rd.sendRecv(b)
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
