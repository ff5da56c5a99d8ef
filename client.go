// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Client is the thin façade exposing one method per supported function
// code, bound to a Stream and a wire variant (TCP/MBAP or RTU). A Client
// does not own its Stream: it never dials, opens, or closes it implicitly.
//
// A Client serializes transactions over its Stream: concurrent calls
// against the same Client are rejected by a one-shot guard rather than
// supported. Callers who need concurrency must construct multiple Clients
// over distinct streams.
type Client struct {
	stream  Stream
	variant protocolVariant
	unitID  byte // TCP unit id, or RTU slave address

	signedRegisters bool
	transactionID   uint32 // TCP only; monotonic per-Client counter

	busy atomic.Bool
}

// newClient allocates a Client for the given variant, applying opts over
// the library defaults. Used by NewTCPClient and NewRTUClient.
func newClient(stream Stream, variant protocolVariant, unitID byte, opts ...Option) *Client {
	c := &Client{
		stream:          stream,
		variant:         variant,
		unitID:          unitID,
		signedRegisters: DefaultSignedRegisters,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// begin acquires the one-shot transaction guard.
func (c *Client) begin() error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrConcurrentTransaction
	}
	return nil
}

func (c *Client) end() {
	c.busy.Store(false)
}

// send builds the request ADU for pdu, runs the transaction driver, and
// returns the decoded response PDU. It is the shared helper every façade
// method funnels through, for both wire variants.
func (c *Client) send(ctx context.Context, pdu ProtocolDataUnit) (ProtocolDataUnit, error) {
	if err := c.begin(); err != nil {
		return ProtocolDataUnit{}, err
	}
	defer c.end()

	var reqADU []byte
	switch c.variant.headerSize {
	case tcpHeaderSize:
		txID := uint16(atomic.AddUint32(&c.transactionID, 1))
		reqADU = buildRequestTCP(txID, c.unitID, pdu)
	default:
		var err error
		reqADU, err = buildRequestRTU(c.unitID, pdu)
		if err != nil {
			return ProtocolDataUnit{}, err
		}
	}

	reqPDU := reqADU[c.variant.headerSize : len(reqADU)-(c.variant.aduOverhead-c.variant.headerSize)]

	respADU, err := transact(ctx, c.stream, c.variant, reqADU, reqPDU)
	if err != nil {
		return ProtocolDataUnit{}, err
	}

	var respPDU ProtocolDataUnit
	if c.variant.headerSize == tcpHeaderSize {
		respPDU, err = parseResponseTCP(reqADU, respADU)
	} else {
		respPDU, err = parseResponseRTU(reqADU, respADU)
	}
	if err != nil {
		return ProtocolDataUnit{}, err
	}
	if respPDU.FunctionCode != pdu.FunctionCode {
		return ProtocolDataUnit{}, &ModbusError{FunctionCode: respPDU.FunctionCode}
	}
	return respPDU, nil
}

// ReadCoils reads quantity coils starting at address.
//
// Request PDU:  fc(1) | start(2) | quantity(2)
// Response PDU: fc(1) | bytecount(1) | packed bits
func (c *Client) ReadCoils(ctx context.Context, address, quantity uint16) (BitVector, error) {
	if quantity < 1 || quantity > 2000 {
		return nil, fmt.Errorf("%w: quantity %d must be between 1 and 2000", ErrInvalidQuantity, quantity)
	}
	resp, err := c.send(ctx, ProtocolDataUnit{FunctionCode: FuncCodeReadCoils, Data: dataBlock(address, quantity)})
	if err != nil {
		return nil, fmt.Errorf("reading coils: %w", err)
	}
	return decodeBitResponse(resp, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address.
func (c *Client) ReadDiscreteInputs(ctx context.Context, address, quantity uint16) (BitVector, error) {
	if quantity < 1 || quantity > 2000 {
		return nil, fmt.Errorf("%w: quantity %d must be between 1 and 2000", ErrInvalidQuantity, quantity)
	}
	resp, err := c.send(ctx, ProtocolDataUnit{FunctionCode: FuncCodeReadDiscreteInputs, Data: dataBlock(address, quantity)})
	if err != nil {
		return nil, fmt.Errorf("reading discrete inputs: %w", err)
	}
	return decodeBitResponse(resp, quantity)
}

func decodeBitResponse(resp ProtocolDataUnit, quantity uint16) (BitVector, error) {
	if len(resp.Data) < 1 {
		return nil, fmt.Errorf("%w: response data is empty", ErrInvalidResponse)
	}
	byteCount := int(resp.Data[0])
	packed := resp.Data[1:]
	wantBytes := (int(quantity) + 7) / 8
	if byteCount != wantBytes || byteCount != len(packed) {
		return nil, fmt.Errorf("%w: response byte count %d does not match quantity %d (want %d bytes)", ErrInvalidResponse, byteCount, quantity, wantBytes)
	}
	return unpackBits(packed, int(quantity)), nil
}

// ReadHoldingRegisters reads quantity holding registers starting at
// address, returned as unsigned 16-bit words.
func (c *Client) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	data, err := c.readRegisters(ctx, FuncCodeReadHoldingRegisters, address, quantity)
	if err != nil {
		return nil, fmt.Errorf("reading holding registers: %w", err)
	}
	return registersToUint16(data), nil
}

// ReadHoldingRegistersSigned reads the identical wire bytes as
// ReadHoldingRegisters, reinterpreted as signed 16-bit words; sign
// interpretation affects only the in-memory type.
func (c *Client) ReadHoldingRegistersSigned(ctx context.Context, address, quantity uint16) ([]int16, error) {
	data, err := c.readRegisters(ctx, FuncCodeReadHoldingRegisters, address, quantity)
	if err != nil {
		return nil, fmt.Errorf("reading holding registers: %w", err)
	}
	return registersToInt16(data), nil
}

// ReadInputRegisters reads quantity input registers starting at address,
// returned as unsigned 16-bit words.
func (c *Client) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	data, err := c.readRegisters(ctx, FuncCodeReadInputRegisters, address, quantity)
	if err != nil {
		return nil, fmt.Errorf("reading input registers: %w", err)
	}
	return registersToUint16(data), nil
}

// ReadInputRegistersSigned reads the identical wire bytes as
// ReadInputRegisters, reinterpreted as signed 16-bit words.
func (c *Client) ReadInputRegistersSigned(ctx context.Context, address, quantity uint16) ([]int16, error) {
	data, err := c.readRegisters(ctx, FuncCodeReadInputRegisters, address, quantity)
	if err != nil {
		return nil, fmt.Errorf("reading input registers: %w", err)
	}
	return registersToInt16(data), nil
}

func (c *Client) readRegisters(ctx context.Context, fc byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > 125 {
		return nil, fmt.Errorf("%w: quantity %d must be between 1 and 125", ErrInvalidQuantity, quantity)
	}
	resp, err := c.send(ctx, ProtocolDataUnit{FunctionCode: fc, Data: dataBlock(address, quantity)})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 {
		return nil, fmt.Errorf("%w: response data is empty", ErrInvalidResponse)
	}
	byteCount := int(resp.Data[0])
	regs := resp.Data[1:]
	if byteCount != 2*int(quantity) || byteCount != len(regs) {
		return nil, fmt.Errorf("%w: response byte count %d does not match quantity %d", ErrInvalidResponse, byteCount, quantity)
	}
	return regs, nil
}

// WriteSingleCoil sets the coil at address to value. The wire
// representation of "on" is 0xFF00 and "off" is 0x0000; since value is a
// bool, no other wire value can be sent.
func (c *Client) WriteSingleCoil(ctx context.Context, address uint16, value bool) (bool, error) {
	wireValue := uint16(0x0000)
	if value {
		wireValue = 0xFF00
	}
	resp, err := c.send(ctx, ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleCoil, Data: dataBlock(address, wireValue)})
	if err != nil {
		return false, fmt.Errorf("writing single coil: %w", err)
	}
	if len(resp.Data) != 4 {
		return false, fmt.Errorf("%w: response length %d does not match expected 4", ErrInvalidResponse, len(resp.Data))
	}
	respAddr := binary.BigEndian.Uint16(resp.Data)
	respValue := binary.BigEndian.Uint16(resp.Data[2:])
	if respAddr != address || respValue != wireValue {
		return false, fmt.Errorf("%w: echoed address/value %d/%#04x does not match request %d/%#04x", ErrInvalidResponse, respAddr, respValue, address, wireValue)
	}
	return value, nil
}

// WriteSingleRegister sets the holding register at address to value.
func (c *Client) WriteSingleRegister(ctx context.Context, address, value uint16) (uint16, error) {
	resp, err := c.send(ctx, ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleRegister, Data: dataBlock(address, value)})
	if err != nil {
		return 0, fmt.Errorf("writing single register: %w", err)
	}
	if len(resp.Data) != 4 {
		return 0, fmt.Errorf("%w: response length %d does not match expected 4", ErrInvalidResponse, len(resp.Data))
	}
	respAddr := binary.BigEndian.Uint16(resp.Data)
	respValue := binary.BigEndian.Uint16(resp.Data[2:])
	if respAddr != address || respValue != value {
		return 0, fmt.Errorf("%w: echoed address/value %d/%d does not match request %d/%d", ErrInvalidResponse, respAddr, respValue, address, value)
	}
	return respValue, nil
}

// WriteMultipleCoils writes values starting at address and returns the
// quantity the server reports as written.
func (c *Client) WriteMultipleCoils(ctx context.Context, address uint16, values BitVector) (uint16, error) {
	quantity := uint16(len(values))
	if quantity < 1 || quantity > 1968 {
		return 0, fmt.Errorf("%w: quantity %d must be between 1 and 1968", ErrInvalidQuantity, quantity)
	}
	return c.writeMultiple(ctx, FuncCodeWriteMultipleCoils, address, quantity, packBits(values))
}

// WriteMultipleRegisters writes values starting at address and returns the
// quantity the server reports as written.
func (c *Client) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) (uint16, error) {
	quantity := uint16(len(values))
	if quantity < 1 || quantity > 123 {
		return 0, fmt.Errorf("%w: quantity %d must be between 1 and 123", ErrInvalidQuantity, quantity)
	}
	return c.writeMultiple(ctx, FuncCodeWriteMultipleRegisters, address, quantity, uint16sToBytes(values))
}

// WriteMultipleRegistersSigned writes the identical wire bytes
// WriteMultipleRegisters would for the same bit patterns, from signed
// input values.
func (c *Client) WriteMultipleRegistersSigned(ctx context.Context, address uint16, values []int16) (uint16, error) {
	quantity := uint16(len(values))
	if quantity < 1 || quantity > 123 {
		return 0, fmt.Errorf("%w: quantity %d must be between 1 and 123", ErrInvalidQuantity, quantity)
	}
	return c.writeMultiple(ctx, FuncCodeWriteMultipleRegisters, address, quantity, int16sToBytes(values))
}

func (c *Client) writeMultiple(ctx context.Context, fc byte, address, quantity uint16, packed []byte) (uint16, error) {
	data := make([]byte, 5+len(packed))
	binary.BigEndian.PutUint16(data, address)
	binary.BigEndian.PutUint16(data[2:], quantity)
	data[4] = byte(len(packed))
	copy(data[5:], packed)

	resp, err := c.send(ctx, ProtocolDataUnit{FunctionCode: fc, Data: data})
	if err != nil {
		return 0, fmt.Errorf("writing multiple: %w", err)
	}
	if len(resp.Data) != 4 {
		return 0, fmt.Errorf("%w: response length %d does not match expected 4", ErrInvalidResponse, len(resp.Data))
	}
	respAddr := binary.BigEndian.Uint16(resp.Data)
	respQuantity := binary.BigEndian.Uint16(resp.Data[2:])
	if respAddr != address || respQuantity != quantity {
		return 0, fmt.Errorf("%w: echoed address/quantity %d/%d does not match request %d/%d", ErrInvalidResponse, respAddr, respQuantity, address, quantity)
	}
	return respQuantity, nil
}
