package dgt4

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Command codes understood by the transmitter firmware.
const (
	CmdZero        byte = 0x01
	CmdChangePage  byte = 0x1D
	CmdDataReading byte = 0x23
)

const (
	// LivePage holds gross/net, status words and the four channel signals.
	LivePage uint32 = 3001

	commandRegister  uint16 = 0
	outputAreaBytes         = 12
	liveBaseRegister uint16 = 0
	liveRegisterQty  uint16 = 12
)

// Settle delays required between a command write and the register clear.
const (
	DataReadingSettle = 120 * time.Millisecond
	ChangePageSettle  = 160 * time.Millisecond
	ZeroSettle        = 220 * time.Millisecond
)

// LiveFrame is one decoded read of the live page.
type LiveFrame struct {
	Gross         int32
	Net           int32
	InputStatus   uint16
	CommandStatus uint16
	OutputStatus  uint16
	SelectedPage  uint16
	Signals       [4]int16
}

// Client executes the transmitter command set over one Transport.
// It is not safe for concurrent use; Session serializes access.
type Client struct {
	Dial  DialFunc
	Sleep func(time.Duration)

	tr Transport
}

// NewClient returns a client that dials Modbus TCP.
func NewClient() *Client {
	return &Client{Dial: DialTCP, Sleep: time.Sleep}
}

// Connect opens a new transport, closing any previous one first.
func (c *Client) Connect(address string, port int, timeout time.Duration) error {
	c.Close()
	dial := c.Dial
	if dial == nil {
		dial = DialTCP
	}
	tr, err := dial(address, port, timeout)
	if err != nil {
		return fmt.Errorf("%w: %s:%d: %w", ErrConnection, address, port, err)
	}
	c.tr = tr
	return nil
}

// Connected reports whether a transport is open.
func (c *Client) Connected() bool { return c.tr != nil }

// Close releases the transport. Safe to call repeatedly.
func (c *Client) Close() error {
	if c.tr == nil {
		return nil
	}
	err := c.tr.Close()
	c.tr = nil
	return err
}

// ChangePage switches the input area to page. The firmware ignores the page
// switch unless it is preceded by a data-reading command.
func (c *Client) ChangePage(unitID uint8, page uint32) error {
	if err := c.command(unitID, CmdDataReading, 0, DataReadingSettle); err != nil {
		return err
	}
	return c.command(unitID, CmdChangePage, page, ChangePageSettle)
}

// Zero issues the zero command.
func (c *Client) Zero(unitID uint8) error {
	return c.command(unitID, CmdZero, 0, ZeroSettle)
}

// ReadLive reads and decodes the 12 live-page input registers.
func (c *Client) ReadLive(unitID uint8) (LiveFrame, error) {
	if c.tr == nil {
		return LiveFrame{}, ErrNotConnected
	}
	r, err := c.tr.ReadInputRegisters(unitID, liveBaseRegister, liveRegisterQty)
	if err != nil {
		return LiveFrame{}, fmt.Errorf("read live page: %w", err)
	}
	if len(r) < int(liveRegisterQty) {
		return LiveFrame{}, fmt.Errorf("%w: got %d registers, want %d", ErrProtocol, len(r), liveRegisterQty)
	}
	return LiveFrame{
		Gross:         Int32(r[0], r[1]),
		Net:           Int32(r[2], r[3]),
		InputStatus:   r[4],
		CommandStatus: r[5],
		OutputStatus:  r[6],
		SelectedPage:  r[7],
		Signals:       [4]int16{Int16(r[8]), Int16(r[9]), Int16(r[10]), Int16(r[11])},
	}, nil
}

// CommandFrame builds the 12-byte output area for cmd with a big-endian parameter.
func CommandFrame(cmd byte, param uint32) []byte {
	b := make([]byte, outputAreaBytes)
	b[1] = cmd
	binary.BigEndian.PutUint32(b[2:6], param)
	return b
}

func (c *Client) command(unitID uint8, cmd byte, param uint32, settle time.Duration) error {
	if c.tr == nil {
		return ErrNotConnected
	}
	regs, err := BytesToRegisters(CommandFrame(cmd, param))
	if err != nil {
		return err
	}
	if err := c.tr.WriteMultipleRegisters(unitID, commandRegister, regs); err != nil {
		return fmt.Errorf("write command 0x%02X: %w", cmd, err)
	}
	c.sleep(settle)
	if err := c.tr.WriteSingleRegister(unitID, commandRegister, 0); err != nil {
		return fmt.Errorf("clear command 0x%02X: %w", cmd, err)
	}
	return nil
}

func (c *Client) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}
