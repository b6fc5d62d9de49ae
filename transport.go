package emboot

import (
	"io"
	"time"

	"github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

// Transport moves raw bytes between the host and the device. Received bytes
// are delivered to a callback from the transport's own reader goroutine;
// that boundary is the only concurrency seam in the stack.
type Transport interface {
	Send([]byte) error
	Close() error
}

// SerialTransport is a Transport over a serial port.
type SerialTransport struct {
	portConfig serial.Config
	port       *serial.Port
	done       chan struct{}
}

// NewSerialTransport creates a serial transport. The port is not opened
// until Open is called.
func NewSerialTransport(port string, baud int) *SerialTransport {
	t := new(SerialTransport)
	t.portConfig.Name = port
	t.portConfig.Baud = baud
	t.portConfig.ReadTimeout = time.Second
	return t
}

// Open opens the port and starts a reader goroutine that delivers received
// byte chunks to onBytes. Chunk boundaries are arbitrary; the protocol
// parsers reassemble frames regardless of how the driver splits them.
func (t *SerialTransport) Open(onBytes func([]byte)) error {
	var err error
	t.port, err = serial.OpenPort(&t.portConfig)
	if err != nil {
		return err
	}
	// On Linux with USB serial ports, in order for flush to work properly
	// we need to delay a little before flushing to make sure that any
	// received data has made its way up the driver stack.
	// See https://stackoverflow.com/questions/13013387/clearing-the-serial-ports-buffer
	time.Sleep(time.Millisecond * 100)
	t.port.Flush()

	t.done = make(chan struct{})
	go t.readLoop(onBytes)
	return nil
}

func (t *SerialTransport) readLoop(onBytes func([]byte)) {
	buf := make([]byte, 4096)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onBytes(chunk)
		}
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			if err == io.EOF {
				// Read timeout with no data, keep polling.
				continue
			}
			pkgLog.Debugf("serial read error: %v", err)
			return
		}
	}
}

// Send writes raw bytes to the port.
func (t *SerialTransport) Send(b []byte) error {
	_, err := t.port.Write(b)
	return err
}

// Close stops the reader goroutine and closes the port.
func (t *SerialTransport) Close() error {
	if t.done != nil {
		close(t.done)
	}
	if t.port != nil {
		return t.port.Close()
	}
	return nil
}

// ListPorts returns the names of the serial ports present on the system.
func ListPorts() ([]string, error) {
	return bugst.GetPortsList()
}
