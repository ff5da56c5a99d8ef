// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "testing"

func TestResponsePDUSize(t *testing.T) {
	tests := []struct {
		name string
		pdu  []byte
		want int
	}{
		{"read coils 3 bits", append([]byte{FuncCodeReadCoils}, dataBlock(0, 3)...), 2 + 1},
		{"read coils 8 bits", append([]byte{FuncCodeReadCoils}, dataBlock(0, 8)...), 2 + 1},
		{"read coils 9 bits", append([]byte{FuncCodeReadCoils}, dataBlock(0, 9)...), 2 + 2},
		{"read discrete inputs 2000 bits", append([]byte{FuncCodeReadDiscreteInputs}, dataBlock(0, 2000)...), 2 + 250},
		{"read holding registers", append([]byte{FuncCodeReadHoldingRegisters}, dataBlock(0, 2)...), 2 + 4},
		{"read input registers", append([]byte{FuncCodeReadInputRegisters}, dataBlock(0, 125)...), 2 + 250},
		{"write single coil", append([]byte{FuncCodeWriteSingleCoil}, dataBlock(7, 0xFF00)...), 5},
		{"write single register", append([]byte{FuncCodeWriteSingleRegister}, dataBlock(7, 1)...), 5},
		{"write multiple coils", append([]byte{FuncCodeWriteMultipleCoils}, dataBlock(1, 4)...), 5},
		{"write multiple registers", append([]byte{FuncCodeWriteMultipleRegisters}, dataBlock(1, 2)...), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := responsePDUSize(tt.pdu)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("responsePDUSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResponsePDUSizeRejectsUnsupportedFunctionCode(t *testing.T) {
	if _, err := responsePDUSize([]byte{0x07}); err == nil {
		t.Fatal("expected error for unsupported function code")
	}
}
