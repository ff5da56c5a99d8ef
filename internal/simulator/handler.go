// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package simulator

import (
	"encoding/binary"

	"github.com/lumberbarons/modbusio"
)

// Handler executes request PDUs against a DataStore and produces response
// PDUs. It implements the data-access function codes 1, 2, 3, 4, 5, 6, 15
// and 16; anything else gets an illegal-function exception.
type Handler struct {
	dataStore *DataStore

	// disableTimeouts suppresses the datastore's drop-the-response
	// simulation. The RTU server sets it: over a pty a dropped response
	// just wedges the client.
	disableTimeouts bool
}

// NewHandler creates a Handler over ds.
func NewHandler(ds *DataStore) *Handler {
	return &Handler{dataStore: ds}
}

// NewHandlerWithoutTimeouts creates a Handler that never simulates dropped
// responses, regardless of the datastore's delay configuration.
func NewHandlerWithoutTimeouts(ds *DataStore) *Handler {
	return &Handler{dataStore: ds, disableTimeouts: true}
}

// HandleRequest executes one request PDU and returns the response PDU, or
// nil when the configured timeout simulation says to drop the request
// without responding.
func (h *Handler) HandleRequest(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return h.handleReadBits(req, RegisterTypeCoil, h.dataStore.ReadCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		return h.handleReadBits(req, RegisterTypeDiscreteInput, h.dataStore.ReadDiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return h.handleReadRegisters(req, RegisterTypeHoldingReg, h.dataStore.ReadHoldingRegisters)
	case modbus.FuncCodeReadInputRegisters:
		return h.handleReadRegisters(req, RegisterTypeInputReg, h.dataStore.ReadInputRegisters)
	case modbus.FuncCodeWriteSingleCoil:
		return h.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return h.handleWriteSingleRegister(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return h.handleWriteMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return h.handleWriteMultipleRegisters(req)
	default:
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func (h *Handler) handleReadBits(req *modbus.ProtocolDataUnit, regType RegisterType, read func(uint16, uint16) ([]bool, error)) *modbus.ProtocolDataUnit {
	if len(req.Data) < 4 {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || quantity > 2000 {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if !h.dataStore.ApplyDelay(regType, address, h.disableTimeouts) {
		return nil
	}

	bits, err := read(address, quantity)
	if err != nil {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return &modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         boolsToBytes(bits),
	}
}

func (h *Handler) handleReadRegisters(req *modbus.ProtocolDataUnit, regType RegisterType, read func(uint16, uint16) ([]uint16, error)) *modbus.ProtocolDataUnit {
	if len(req.Data) < 4 {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || quantity > 125 {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if !h.dataStore.ApplyDelay(regType, address, h.disableTimeouts) {
		return nil
	}

	registers, err := read(address, quantity)
	if err != nil {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	return &modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         registersToBytes(registers),
	}
}

func (h *Handler) handleWriteSingleCoil(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 4 {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	// Only 0xFF00 (on) and 0x0000 (off) are valid coil write values.
	if value != 0x0000 && value != 0xFF00 {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if !h.dataStore.ApplyDelay(RegisterTypeCoil, address, h.disableTimeouts) {
		return nil
	}

	if err := h.dataStore.WriteSingleCoil(address, value == 0xFF00); err != nil {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	// Echo the request.
	return &modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         req.Data,
	}
}

func (h *Handler) handleWriteSingleRegister(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 4 {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if !h.dataStore.ApplyDelay(RegisterTypeHoldingReg, address, h.disableTimeouts) {
		return nil
	}

	if err := h.dataStore.WriteSingleRegister(address, value); err != nil {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	// Echo the request.
	return &modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         req.Data,
	}
}

func (h *Handler) handleWriteMultipleCoils(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 5 {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > 1968 {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if uint16(byteCount) != (quantity+7)/8 || len(req.Data) < int(5+byteCount) {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if !h.dataStore.ApplyDelay(RegisterTypeCoil, address, h.disableTimeouts) {
		return nil
	}

	coils := bytesToBools(req.Data[5:5+byteCount], quantity)
	if err := h.dataStore.WriteMultipleCoils(address, coils); err != nil {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	response := make([]byte, 4)
	binary.BigEndian.PutUint16(response[0:2], address)
	binary.BigEndian.PutUint16(response[2:4], quantity)
	return &modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         response,
	}
}

func (h *Handler) handleWriteMultipleRegisters(req *modbus.ProtocolDataUnit) *modbus.ProtocolDataUnit {
	if len(req.Data) < 5 {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > 123 {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if byteCount != byte(quantity*2) || len(req.Data) < int(5+byteCount) {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if !h.dataStore.ApplyDelay(RegisterTypeHoldingReg, address, h.disableTimeouts) {
		return nil
	}

	registers := bytesToRegisters(req.Data[5 : 5+byteCount])
	if err := h.dataStore.WriteMultipleRegisters(address, registers); err != nil {
		return newExceptionResponse(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	response := make([]byte, 4)
	binary.BigEndian.PutUint16(response[0:2], address)
	binary.BigEndian.PutUint16(response[2:4], quantity)
	return &modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         response,
	}
}

func newExceptionResponse(functionCode, exceptionCode byte) *modbus.ProtocolDataUnit {
	return &modbus.ProtocolDataUnit{
		FunctionCode: functionCode | 0x80,
		Data:         []byte{exceptionCode},
	}
}

// boolsToBytes packs bits LSB-first per byte, prefixed with the byte
// count, matching the read-bits response layout.
func boolsToBytes(values []bool) []byte {
	byteCount := (len(values) + 7) / 8
	result := make([]byte, 1+byteCount)
	result[0] = byte(byteCount)
	for i, val := range values {
		if val {
			result[1+i/8] |= 1 << uint(i%8)
		}
	}
	return result
}

// bytesToBools extracts quantity bits from LSB-first packed bytes.
func bytesToBools(data []byte, quantity uint16) []bool {
	result := make([]bool, quantity)
	for i := uint16(0); i < quantity; i++ {
		result[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return result
}

// registersToBytes encodes registers big-endian, prefixed with the byte
// count, matching the read-registers response layout.
func registersToBytes(registers []uint16) []byte {
	result := make([]byte, 1+2*len(registers))
	result[0] = byte(2 * len(registers))
	for i, reg := range registers {
		binary.BigEndian.PutUint16(result[1+i*2:], reg)
	}
	return result
}

// bytesToRegisters decodes big-endian register bytes.
func bytesToRegisters(data []byte) []uint16 {
	result := make([]uint16, len(data)/2)
	for i := range result {
		result[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return result
}
