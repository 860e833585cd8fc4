package dgt4

import (
	"fmt"
	"net"
	"strconv"
	"time"

	mb "github.com/goburrow/modbus"
)

// Transport is the register-level view of one open connection to a transmitter.
type Transport interface {
	WriteMultipleRegisters(unitID uint8, address uint16, values []uint16) error
	WriteSingleRegister(unitID uint8, address, value uint16) error
	ReadInputRegisters(unitID uint8, address, quantity uint16) ([]uint16, error)
	Close() error
}

// DialFunc opens a Transport to address:port with the given I/O timeout.
type DialFunc func(address string, port int, timeout time.Duration) (Transport, error)

// tcpTransport adapts a goburrow Modbus TCP handler to Transport.
type tcpTransport struct {
	handler *mb.TCPClientHandler
	client  mb.Client
}

// DialTCP connects a Modbus TCP transport. Read and write deadlines follow timeout.
func DialTCP(address string, port int, timeout time.Duration) (Transport, error) {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	h := mb.NewTCPClientHandler(net.JoinHostPort(address, strconv.Itoa(port)))
	h.Timeout = timeout
	// keep the socket for the whole session; goburrow closes idle links after 60s by default
	h.IdleTimeout = 24 * time.Hour
	if err := h.Connect(); err != nil {
		return nil, err
	}
	return &tcpTransport{handler: h, client: mb.NewClient(h)}, nil
}

func (t *tcpTransport) WriteMultipleRegisters(unitID uint8, address uint16, values []uint16) error {
	t.handler.SlaveId = unitID
	_, err := t.client.WriteMultipleRegisters(address, uint16(len(values)), RegistersToBytes(values))
	return err
}

func (t *tcpTransport) WriteSingleRegister(unitID uint8, address, value uint16) error {
	t.handler.SlaveId = unitID
	_, err := t.client.WriteSingleRegister(address, value)
	return err
}

func (t *tcpTransport) ReadInputRegisters(unitID uint8, address, quantity uint16) ([]uint16, error) {
	t.handler.SlaveId = unitID
	data, err := t.client.ReadInputRegisters(address, quantity)
	if err != nil {
		return nil, err
	}
	regs, err := BytesToRegisters(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return regs, nil
}

func (t *tcpTransport) Close() error {
	return t.handler.Close()
}
