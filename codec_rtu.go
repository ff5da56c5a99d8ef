// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "fmt"

// RTU framing constants.
const (
	rtuMinSize             = 4 // address + fc + 2-byte crc, no data
	rtuMaxSize             = 256
	rtuExceptionPrefixSize = 5 // address + fc + excode + 2-byte crc
)

// buildRequestRTU encodes a PDU into an RTU ADU:
//
//	Address : 1 byte
//	PDU     : n bytes
//	CRC     : 2 bytes, little-endian, CRC-16/Modbus over address||PDU
func buildRequestRTU(address byte, pdu ProtocolDataUnit) ([]byte, error) {
	length := 1 + 1 + len(pdu.Data) + 2
	if length > rtuMaxSize {
		return nil, fmt.Errorf("%w: RTU frame length %d exceeds maximum %d", ErrInvalidData, length, rtuMaxSize)
	}
	adu := make([]byte, length)
	adu[0] = address
	adu[1] = pdu.FunctionCode
	copy(adu[2:], pdu.Data)

	var c crc
	c.reset().pushBytes(adu[:length-2])
	checksum := c.value()
	adu[length-2] = byte(checksum)
	adu[length-1] = byte(checksum >> 8)
	return adu, nil
}

// parseResponseRTU decodes and validates a full RTU ADU against the
// original request ADU (address echo, CRC) and returns the response PDU.
func parseResponseRTU(reqADU, respADU []byte) (ProtocolDataUnit, error) {
	if len(respADU) < rtuMinSize {
		return ProtocolDataUnit{}, fmt.Errorf("%w: RTU response length %d below minimum %d", ErrShortFrame, len(respADU), rtuMinSize)
	}
	if respADU[0] != reqADU[0] {
		return ProtocolDataUnit{}, fmt.Errorf("%w: response address %d does not match request %d", ErrProtocolError, respADU[0], reqADU[0])
	}
	if err := verifyCRC(respADU); err != nil {
		return ProtocolDataUnit{}, err
	}
	return ProtocolDataUnit{
		FunctionCode: respADU[1],
		Data:         respADU[2 : len(respADU)-2],
	}, nil
}

// verifyCRC checks the trailing little-endian CRC-16/Modbus against the
// rest of the ADU.
func verifyCRC(adu []byte) error {
	n := len(adu)
	var c crc
	c.reset().pushBytes(adu[:n-2])
	want := c.value()
	got := uint16(adu[n-2]) | uint16(adu[n-1])<<8
	if got != want {
		return fmt.Errorf("%w: CRC %#04x does not match expected %#04x", ErrProtocolError, got, want)
	}
	return nil
}
