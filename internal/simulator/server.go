// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package simulator

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/lumberbarons/modbusio"
)

const (
	rtuMinSize = 4
	rtuMaxSize = 256
)

// RTUServer serves Modbus RTU over one end of a pseudo-terminal pair; the
// client opens the other end as if it were a serial device.
type RTUServer struct {
	handler  *Handler
	pty      *PtyPair
	slaveID  byte
	baudRate int
	logger   *log.Logger
	stopChan chan struct{}
	doneChan chan struct{}
}

// RTUServerConfig holds configuration for the RTU server.
type RTUServerConfig struct {
	SlaveID  byte
	BaudRate int
	Logger   *log.Logger
}

// NewRTUServer creates an RTU server over a fresh pty pair. Dropped-response
// simulation is disabled: a pty has no line timeout, so a dropped response
// would wedge the client instead of timing it out.
func NewRTUServer(ds *DataStore, config *RTUServerConfig) (*RTUServer, error) {
	if config == nil {
		config = &RTUServerConfig{}
	}
	if config.SlaveID == 0 {
		config.SlaveID = 1
	}
	if config.BaudRate == 0 {
		config.BaudRate = 19200
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stdout, "rtu-server: ", log.LstdFlags)
	}

	pty, err := CreatePtyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to create pty: %w", err)
	}

	return &RTUServer{
		handler:  NewHandlerWithoutTimeouts(ds),
		pty:      pty,
		slaveID:  config.SlaveID,
		baudRate: config.BaudRate,
		logger:   config.Logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// ClientDevicePath returns the device path clients should open.
func (s *RTUServer) ClientDevicePath() string {
	return s.pty.SlavePath
}

// Start runs the server loop in a goroutine.
func (s *RTUServer) Start() error {
	go s.serve()
	// Give the pty a moment to be openable by the client.
	time.Sleep(200 * time.Millisecond)
	return nil
}

// Stop stops the server and closes the pty.
func (s *RTUServer) Stop() error {
	close(s.stopChan)

	// Closing the pty unblocks any pending read.
	if err := s.pty.Close(); err != nil {
		s.logger.Printf("error closing pty: %v", err)
	}

	select {
	case <-s.doneChan:
	case <-time.After(1 * time.Second):
		// The goroutine is stuck in a blocking read; it will be collected.
		s.logger.Printf("RTU server stop timed out (goroutine may still be reading)")
	}
	return nil
}

func (s *RTUServer) serve() {
	defer close(s.doneChan)

	s.logger.Printf("RTU server listening - server pty: %s, client pty: %s (slave ID: %d)", s.pty.MasterPath, s.pty.SlavePath, s.slaveID)

	for {
		select {
		case <-s.stopChan:
			s.logger.Printf("RTU server stopping")
			return
		default:
			if err := s.handleRequest(); err != nil {
				if err == io.EOF {
					s.logger.Printf("RTU server stopping (pty closed)")
					return
				}
				s.logger.Printf("error handling request: %v", err)
			}
		}
	}
}

// handleRequest reads one request frame and writes the response.
func (s *RTUServer) handleRequest() error {
	// A short read deadline lets the loop check stopChan.
	if err := s.pty.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
		s.logger.Printf("warning: failed to set read deadline: %v", err)
	}

	adu, err := s.readFrame()
	if err != nil {
		if os.IsTimeout(err) {
			return nil
		}
		if err == io.EOF || err == os.ErrClosed {
			return io.EOF
		}
		s.logger.Printf("error reading frame: %v", err)
		return nil
	}

	s.logger.Printf("received: % x", adu)

	pdu, err := decodeRTUFrame(adu)
	if err != nil {
		s.logger.Printf("failed to decode frame: %v", err)
		return nil
	}

	// Address 0 is broadcast; anything else must match our slave id.
	if adu[0] != s.slaveID && adu[0] != 0 {
		return nil
	}

	responsePDU := s.handler.HandleRequest(pdu)
	if responsePDU == nil {
		return nil
	}

	responseADU, err := encodeRTUFrame(s.slaveID, responsePDU)
	if err != nil {
		s.logger.Printf("failed to encode response: %v", err)
		return nil
	}

	// Wait out the request's transmission time plus the 3.5-character
	// inter-frame silence before responding.
	time.Sleep(s.frameDelay(len(adu)))

	s.logger.Printf("sending: % x", responseADU)
	if _, err := s.pty.Write(responseADU); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if err := s.pty.Sync(); err != nil {
		s.logger.Printf("warning: failed to sync: %v", err)
	}
	return nil
}

// readFrame reads one complete RTU request frame.
func (s *RTUServer) readFrame() ([]byte, error) {
	var buffer [rtuMaxSize]byte

	n, err := io.ReadAtLeast(s.pty, buffer[:], rtuMinSize)
	if err != nil {
		return nil, err
	}

	expected := expectedRequestLength(buffer[:n])
	if expected > n && expected <= rtuMaxSize {
		n2, err := io.ReadFull(s.pty, buffer[n:expected])
		if err != nil {
			return nil, err
		}
		n += n2
	}
	return buffer[:n], nil
}

// expectedRequestLength computes the full request frame length from what
// has been read so far. All supported requests are address(1) + fc(1) +
// start(2) + value-or-quantity(2) + crc(2) = 8 bytes, except the two
// write-multiple codes which append a byte count and payload.
func expectedRequestLength(data []byte) int {
	if len(data) < 2 {
		return rtuMinSize
	}
	switch data[1] {
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		if len(data) >= 7 {
			return 7 + int(data[6]) + 2
		}
		return rtuMinSize
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		return 8
	default:
		// Unknown function code: take what we have and let the CRC check
		// reject it.
		return rtuMinSize
	}
}

// frameDelay is chars times the 1.5-character time plus the 3.5-character
// inter-frame time at the configured baud rate, per the Modbus over serial
// line guide. Above 19200 baud the fixed values 750us and 1750us apply.
func (s *RTUServer) frameDelay(chars int) time.Duration {
	var characterDelay, frameDelay int // microseconds
	if s.baudRate <= 0 || s.baudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / s.baudRate
		frameDelay = 35000000 / s.baudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}

// encodeRTUFrame frames a PDU as address || PDU || crc16 (little-endian).
func encodeRTUFrame(slaveID byte, pdu *modbus.ProtocolDataUnit) ([]byte, error) {
	length := len(pdu.Data) + 4
	if length > rtuMaxSize {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", length, rtuMaxSize)
	}
	adu := make([]byte, length)
	adu[0] = slaveID
	adu[1] = pdu.FunctionCode
	copy(adu[2:], pdu.Data)

	checksum := crc16(adu[:length-2])
	adu[length-2] = byte(checksum)
	adu[length-1] = byte(checksum >> 8)
	return adu, nil
}

// decodeRTUFrame verifies the trailing CRC and extracts the PDU.
func decodeRTUFrame(adu []byte) (*modbus.ProtocolDataUnit, error) {
	length := len(adu)
	if length < rtuMinSize {
		return nil, fmt.Errorf("frame length %d is less than minimum %d", length, rtuMinSize)
	}
	expected := crc16(adu[:length-2])
	actual := uint16(adu[length-2]) | uint16(adu[length-1])<<8
	if actual != expected {
		return nil, fmt.Errorf("crc mismatch: expected %04x, got %04x", expected, actual)
	}
	return &modbus.ProtocolDataUnit{
		FunctionCode: adu[1],
		Data:         adu[2 : length-2],
	}, nil
}

// crc16 is CRC-16/Modbus: poly 0xA001 reflected, init 0xFFFF, no final
// xor.
func crc16(data []byte) uint16 {
	value := uint16(0xFFFF)
	for _, b := range data {
		value ^= uint16(b)
		for i := 0; i < 8; i++ {
			if value&0x0001 != 0 {
				value = value>>1 ^ 0xA001
			} else {
				value >>= 1
			}
		}
	}
	return value
}
