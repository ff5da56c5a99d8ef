// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"testing"
)

// TestBuildRequestRTUReadHoldingRegistersScenario checks the literal wire
// bytes of a two-register read request, including the appended CRC.
func TestBuildRequestRTUReadHoldingRegistersScenario(t *testing.T) {
	pdu := ProtocolDataUnit{FunctionCode: FuncCodeReadHoldingRegisters, Data: dataBlock(0, 2)}
	adu, err := buildRequestRTU(1, pdu)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B}
	if !bytes.Equal(adu, want) {
		t.Fatalf("adu = % x, want % x", adu, want)
	}
}

func TestParseResponseRTUReadHoldingRegistersScenario(t *testing.T) {
	reqADU := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B}
	respADU := []byte{0x01, 0x03, 0x04, 0x12, 0x34, 0xAB, 0xCD, 0x00, 0x20}

	pdu, err := parseResponseRTU(reqADU, respADU)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	regs := registersToUint16(pdu.Data[1:])
	want := []uint16{0x1234, 0xABCD}
	for i, r := range want {
		if regs[i] != r {
			t.Fatalf("register %d = %#04x, want %#04x", i, regs[i], r)
		}
	}
	signed := registersToInt16(pdu.Data[1:])
	if signed[1] != -21555 {
		t.Fatalf("signed register 1 = %d, want -21555", signed[1])
	}
}

func TestParseResponseRTURejectsBadCRC(t *testing.T) {
	reqADU := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B}
	respADU := []byte{0x01, 0x03, 0x04, 0x12, 0x34, 0xAB, 0xCD, 0x00, 0x21}
	if _, err := parseResponseRTU(reqADU, respADU); err == nil {
		t.Fatal("expected error for bad CRC")
	}
}

func TestParseResponseRTURejectsAddressMismatch(t *testing.T) {
	reqADU := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B}
	respADU := []byte{0x02, 0x03, 0x04, 0x12, 0x34, 0xAB, 0xCD, 0x00, 0x20}
	if _, err := parseResponseRTU(reqADU, respADU); err == nil {
		t.Fatal("expected error for address mismatch")
	}
}

// TestWriteMultipleCoilsPacking checks that values [1,0,1,1] pack
// LSB-first into 0x0D.
func TestWriteMultipleCoilsPacking(t *testing.T) {
	packed := packBits(BitVector{true, false, true, true})
	if len(packed) != 1 || packed[0] != 0x0D {
		t.Fatalf("packed = % x, want [0d]", packed)
	}
}

func TestRequestRoundTripsAllFunctionCodes(t *testing.T) {
	cases := []ProtocolDataUnit{
		{FunctionCode: FuncCodeReadCoils, Data: dataBlock(0, 3)},
		{FunctionCode: FuncCodeReadDiscreteInputs, Data: dataBlock(10, 5)},
		{FunctionCode: FuncCodeReadHoldingRegisters, Data: dataBlock(0, 2)},
		{FunctionCode: FuncCodeReadInputRegisters, Data: dataBlock(0, 2)},
		{FunctionCode: FuncCodeWriteSingleCoil, Data: dataBlock(7, 0xFF00)},
		{FunctionCode: FuncCodeWriteSingleRegister, Data: dataBlock(7, 1234)},
		{FunctionCode: FuncCodeWriteMultipleCoils, Data: append(dataBlock(1, 4), 1, 0x0D)},
		{FunctionCode: FuncCodeWriteMultipleRegisters, Data: append(dataBlock(1, 2), 4, 0x12, 0x34, 0xAB, 0xCD)},
	}
	for _, pdu := range cases {
		adu, err := buildRequestRTU(1, pdu)
		if err != nil {
			t.Fatalf("fc %d: %v", pdu.FunctionCode, err)
		}
		got := ProtocolDataUnit{FunctionCode: adu[1], Data: adu[2 : len(adu)-2]}
		if got.FunctionCode != pdu.FunctionCode || !bytes.Equal(got.Data, pdu.Data) {
			t.Fatalf("fc %d: round-trip mismatch: got %+v, want %+v", pdu.FunctionCode, got, pdu)
		}
	}
}
