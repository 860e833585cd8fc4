// Package modbus is a small Modbus TCP register server used to emulate
// weighing transmitters on the bench and in tests.
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

const (
	functionReadHoldingRegs   = 0x03
	functionReadInputRegs     = 0x04
	functionWriteSingleReg    = 0x06
	functionWriteMultipleRegs = 0x10

	exceptionIllegalFunction = 0x01
	exceptionIllegalDataAddr = 0x02
	exceptionIllegalDataVal  = 0x03

	registerCount = 65536
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidPDULen = errors.New("invalid pdu length")
)

// WriteHook observes holding register writes after they are applied.
type WriteHook func(unitID uint8, address uint16, values []uint16)

// Server implements a Modbus TCP server for holding and input registers.
type Server struct {
	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	// OnWrite, when set before Listen, runs after every register write.
	OnWrite WriteHook

	mu               sync.RWMutex
	HoldingRegisters []uint16
	InputRegisters   []uint16
}

// NewServer constructs a server with a full register space.
func NewServer() *Server {
	return &Server{
		HoldingRegisters: make([]uint16, registerCount),
		InputRegisters:   make([]uint16, registerCount),
		quit:             make(chan struct{}),
	}
}

// Listen starts accepting Modbus TCP connections on the provided address.
// Use port 0 to pick a free port and Addr to read it back.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listening address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.quit:
			conn.Close()
		case <-done:
		}
	}()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		length := binary.BigEndian.Uint16(header[4:6])
		pduLength := int(length) - 1
		if pduLength <= 0 {
			continue
		}

		unitID := header[6]
		pdu := make([]byte, pduLength)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		response := s.handlePDU(unitID, pdu)
		if len(response) == 0 {
			continue
		}

		// transaction id in header[0:2] is echoed back unchanged
		binary.BigEndian.PutUint16(header[2:4], 0)
		binary.BigEndian.PutUint16(header[4:6], uint16(len(response)+1))
		header[6] = unitID

		if _, err := conn.Write(append(header, response...)); err != nil {
			return
		}
	}
}

func (s *Server) handlePDU(unitID uint8, pdu []byte) []byte {
	if len(pdu) == 0 {
		return exceptionResponse(0, exceptionIllegalFunction)
	}

	function := pdu[0]
	switch function {
	case functionReadHoldingRegs:
		data, err := s.readRegisters(s.HoldingRegisters, pdu)
		if err != nil {
			return exceptionResponse(function, errToCode(err))
		}
		return append([]byte{function, byte(len(data))}, data...)
	case functionReadInputRegs:
		data, err := s.readRegisters(s.InputRegisters, pdu)
		if err != nil {
			return exceptionResponse(function, errToCode(err))
		}
		return append([]byte{function, byte(len(data))}, data...)
	case functionWriteSingleReg:
		if len(pdu) < 5 {
			return exceptionResponse(function, exceptionIllegalDataVal)
		}
		address := binary.BigEndian.Uint16(pdu[1:3])
		value := binary.BigEndian.Uint16(pdu[3:5])
		s.writeRegisters(unitID, address, []uint16{value})
		return append([]byte(nil), pdu[:5]...)
	case functionWriteMultipleRegs:
		address, values, err := parseWriteMultiple(pdu)
		if err != nil {
			return exceptionResponse(function, errToCode(err))
		}
		s.writeRegisters(unitID, address, values)
		return append([]byte(nil), pdu[:5]...)
	default:
		return exceptionResponse(function, exceptionIllegalFunction)
	}
}

func parseWriteMultiple(pdu []byte) (uint16, []uint16, error) {
	if len(pdu) < 6 {
		return 0, nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])
	if quantity == 0 || quantity > 123 || byteCount != int(quantity)*2 {
		return 0, nil, errInvalidQty
	}
	if len(pdu) < 6+byteCount {
		return 0, nil, errInvalidPDULen
	}
	if int(start)+int(quantity) > registerCount {
		return 0, nil, errOutOfRange
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(pdu[6+i*2:])
	}
	return start, values, nil
}

func (s *Server) writeRegisters(unitID uint8, address uint16, values []uint16) {
	s.mu.Lock()
	copy(s.HoldingRegisters[address:], values)
	s.mu.Unlock()
	if s.OnWrite != nil {
		s.OnWrite(unitID, address, values)
	}
}

func (s *Server) readRegisters(source []uint16, pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > 125 {
		return nil, errInvalidQty
	}
	end := int(start) + int(quantity)
	if end > len(source) {
		return nil, errOutOfRange
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]byte, quantity*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:(i+1)*2], source[int(start)+i])
	}
	return result, nil
}

func exceptionResponse(function byte, code byte) []byte {
	return []byte{function | 0x80, code}
}

func errToCode(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange):
		return exceptionIllegalDataAddr
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidPDULen):
		return exceptionIllegalDataVal
	default:
		return exceptionIllegalFunction
	}
}

// Close stops the server, drops open connections and waits for all
// goroutines to exit.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}

// SetInputRegisters overwrites a block of input registers atomically.
func (s *Server) SetInputRegisters(address uint16, values []uint16) error {
	if int(address)+len(values) > registerCount {
		return fmt.Errorf("address %d+%d out of range", address, len(values))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.InputRegisters[address:], values)
	return nil
}

// HoldingRegister returns the current holding register value.
func (s *Server) HoldingRegister(address uint16) uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.HoldingRegisters[address]
}
