// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package simulator

import (
	"encoding/binary"
	"testing"

	"github.com/lumberbarons/modbusio"
)

func u16s(values ...uint16) []byte {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}

func TestHandlerRejectsUnsupportedFunctionCode(t *testing.T) {
	h := NewHandler(NewDataStore(nil))

	resp := h.HandleRequest(&modbus.ProtocolDataUnit{FunctionCode: 0x07})
	if resp.FunctionCode != 0x07|0x80 {
		t.Fatalf("function code = %#02x, want exception %#02x", resp.FunctionCode, 0x07|0x80)
	}
	if len(resp.Data) != 1 || resp.Data[0] != modbus.ExceptionCodeIllegalFunction {
		t.Fatalf("exception code = % x, want illegal function", resp.Data)
	}
}

func TestHandlerWriteThenReadRegisters(t *testing.T) {
	h := NewHandler(NewDataStore(nil))

	writeData := append(u16s(10, 2), 4)
	writeData = append(writeData, u16s(0x1234, 0xABCD)...)
	resp := h.HandleRequest(&modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteMultipleRegisters,
		Data:         writeData,
	})
	if resp.FunctionCode != modbus.FuncCodeWriteMultipleRegisters {
		t.Fatalf("write response: %+v", resp)
	}

	resp = h.HandleRequest(&modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         u16s(10, 2),
	})
	if resp.FunctionCode != modbus.FuncCodeReadHoldingRegisters {
		t.Fatalf("read response: %+v", resp)
	}
	if resp.Data[0] != 4 {
		t.Fatalf("byte count = %d, want 4", resp.Data[0])
	}
	regs := bytesToRegisters(resp.Data[1:])
	if regs[0] != 0x1234 || regs[1] != 0xABCD {
		t.Fatalf("regs = %#04x %#04x, want 0x1234 0xABCD", regs[0], regs[1])
	}
}

func TestHandlerWriteThenReadCoils(t *testing.T) {
	h := NewHandler(NewDataStore(nil))

	// [1,0,1,1] packs LSB-first into 0x0D.
	writeData := append(u16s(5, 4), 1, 0x0D)
	resp := h.HandleRequest(&modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteMultipleCoils,
		Data:         writeData,
	})
	if resp.FunctionCode != modbus.FuncCodeWriteMultipleCoils {
		t.Fatalf("write response: %+v", resp)
	}

	resp = h.HandleRequest(&modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadCoils,
		Data:         u16s(5, 4),
	})
	if resp.FunctionCode != modbus.FuncCodeReadCoils {
		t.Fatalf("read response: %+v", resp)
	}
	if resp.Data[0] != 1 || resp.Data[1] != 0x0D {
		t.Fatalf("coil response = % x, want 01 0d", resp.Data)
	}
}

func TestHandlerWriteSingleCoilRejectsBadValue(t *testing.T) {
	h := NewHandler(NewDataStore(nil))

	resp := h.HandleRequest(&modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleCoil,
		Data:         u16s(7, 0x1234), // neither 0xFF00 nor 0x0000
	})
	if resp.FunctionCode != modbus.FuncCodeWriteSingleCoil|0x80 {
		t.Fatalf("function code = %#02x, want exception", resp.FunctionCode)
	}
	if resp.Data[0] != modbus.ExceptionCodeIllegalDataValue {
		t.Fatalf("exception code = %d, want illegal data value", resp.Data[0])
	}
}

func TestHandlerReadBeyondAddressSpace(t *testing.T) {
	h := NewHandler(NewDataStore(nil))

	resp := h.HandleRequest(&modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         u16s(65500, 100),
	})
	if resp.FunctionCode != modbus.FuncCodeReadHoldingRegisters|0x80 {
		t.Fatalf("function code = %#02x, want exception", resp.FunctionCode)
	}
	if resp.Data[0] != modbus.ExceptionCodeIllegalDataAddress {
		t.Fatalf("exception code = %d, want illegal data address", resp.Data[0])
	}
}

func TestHandlerTimeoutSimulationDropsResponse(t *testing.T) {
	ds := NewDataStore(&DataStoreConfig{
		Delays: &DelayConfigSet{
			HoldingRegs: map[uint16]DelayConfig{
				200: {TimeoutProbability: 1.0},
			},
		},
	})

	h := NewHandler(ds)
	resp := h.HandleRequest(&modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         u16s(200, 1),
	})
	if resp != nil {
		t.Fatalf("expected dropped response, got %+v", resp)
	}

	// The same request proceeds when timeouts are disabled.
	hNoTimeout := NewHandlerWithoutTimeouts(ds)
	resp = hNoTimeout.HandleRequest(&modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         u16s(200, 1),
	})
	if resp == nil {
		t.Fatal("expected a response with timeouts disabled")
	}
}
