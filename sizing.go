// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

// responsePDUSize returns the expected length, in bytes, of the successful
// response PDU for the given request PDU. It is the "response-size
// oracle": protocol-generic, used by both wire variants to bound how many
// bytes the transaction driver reads after the exception-sized prefix.
//
// quantity is read from bytes [3:5) of the request PDU (offset 2 within
// Data, since reqPDU[0] is the function code).
func responsePDUSize(reqPDU []byte) (int, error) {
	if len(reqPDU) < 1 {
		return 0, fmt.Errorf("%w: empty request PDU", ErrInvalidData)
	}
	switch reqPDU[0] {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		quantity, err := requestQuantity(reqPDU)
		if err != nil {
			return 0, err
		}
		return 2 + (int(quantity)+7)/8, nil
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		quantity, err := requestQuantity(reqPDU)
		if err != nil {
			return 0, err
		}
		return 2 + 2*int(quantity), nil
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		return 5, nil
	default:
		return 0, fmt.Errorf("%w: unsupported function code %d", ErrInvalidData, reqPDU[0])
	}
}

// requestQuantity reads the quantity field at PDU offset 3 (the u16
// immediately following the function code and starting address).
func requestQuantity(reqPDU []byte) (uint16, error) {
	if len(reqPDU) < 5 {
		return 0, fmt.Errorf("%w: request PDU too short to contain a quantity field", ErrInvalidData)
	}
	return binary.BigEndian.Uint16(reqPDU[3:5]), nil
}
