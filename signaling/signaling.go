package signaling

import (
	"bufio"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/tarm/serial"
)

// SignalHandler interface defines methods for handling signals
type SignalHandler interface {
	HandleSignal(signal string) error
}

// ButtonSignal reads hardware button presses from a serial port. The
// controller sends each button number followed by a semicolon.
type ButtonSignal struct {
	port     *serial.Port
	portName string
	baud     int
	mutex    sync.Mutex
	callback func(string) error
}

// NewButtonSignal creates a new serial button signal reader
func NewButtonSignal(portName string, baud int, callback func(string) error) (*ButtonSignal, error) {
	return &ButtonSignal{
		portName: portName,
		baud:     baud,
		callback: callback,
	}, nil
}

// Connect opens the serial port and starts listening
func (b *ButtonSignal) Connect() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.port != nil {
		return nil
	}

	config := &serial.Config{
		Name: b.portName,
		Baud: b.baud,
	}

	port, err := serial.OpenPort(config)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %v", err)
	}

	b.port = port

	go b.listen()

	return nil
}

// listen continuously reads from the serial port
func (b *ButtonSignal) listen() {
	reader := bufio.NewReader(b.port)
	var buffer strings.Builder

	for {
		c, err := reader.ReadByte()
		if err != nil {
			log.Printf("[Signaling] Error reading from serial port: %v", err)
			break
		}

		// Semicolon marks the end of a button code
		if c == ';' {
			if buffer.Len() > 0 {
				signal := buffer.String()
				if b.callback != nil {
					if err := b.callback(signal); err != nil {
						log.Printf("[Signaling] Error handling signal %q: %v", signal, err)
					}
				}
				buffer.Reset()
			}
		} else {
			buffer.WriteByte(c)
		}
	}
}

// HandleSignal processes a button code directly
func (b *ButtonSignal) HandleSignal(signal string) error {
	if b.callback != nil {
		return b.callback(signal)
	}
	return nil
}

// Close closes the serial port connection
func (b *ButtonSignal) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.port != nil {
		err := b.port.Close()
		b.port = nil
		return err
	}
	return nil
}
