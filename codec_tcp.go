// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

// TCP/MBAP framing constants.
const (
	tcpProtocolIdentifier uint16 = 0x0000
	tcpHeaderSize                = 7
	tcpExceptionPrefixSize       = tcpHeaderSize + 2
)

// buildRequestTCP encodes a PDU into an MBAP ADU:
//
//	Transaction identifier : 2 bytes
//	Protocol identifier    : 2 bytes (always 0)
//	Length                 : 2 bytes (= 1 + len(PDU), covers unit id + PDU)
//	Unit identifier        : 1 byte
//	PDU                    : n bytes
func buildRequestTCP(transactionID uint16, unitID byte, pdu ProtocolDataUnit) []byte {
	adu := make([]byte, tcpHeaderSize+1+len(pdu.Data))
	binary.BigEndian.PutUint16(adu, transactionID)
	binary.BigEndian.PutUint16(adu[2:], tcpProtocolIdentifier)
	binary.BigEndian.PutUint16(adu[4:], uint16(1+1+len(pdu.Data)))
	adu[6] = unitID
	adu[tcpHeaderSize] = pdu.FunctionCode
	copy(adu[tcpHeaderSize+1:], pdu.Data)
	return adu
}

// parseResponseTCP decodes and validates a full MBAP ADU against the
// original request ADU (transaction id, protocol id, unit id, length
// field) and returns the response PDU.
func parseResponseTCP(reqADU, respADU []byte) (ProtocolDataUnit, error) {
	if len(respADU) < tcpHeaderSize+1 {
		return ProtocolDataUnit{}, fmt.Errorf("%w: MBAP response shorter than header+function code", ErrShortFrame)
	}
	reqTxID := binary.BigEndian.Uint16(reqADU)
	respTxID := binary.BigEndian.Uint16(respADU)
	if reqTxID != respTxID {
		return ProtocolDataUnit{}, fmt.Errorf("%w: response transaction id %d does not match request %d", ErrProtocolError, respTxID, reqTxID)
	}
	protocolID := binary.BigEndian.Uint16(respADU[2:])
	if protocolID != tcpProtocolIdentifier {
		return ProtocolDataUnit{}, fmt.Errorf("%w: response protocol id %d must be 0", ErrProtocolError, protocolID)
	}
	if respADU[6] != reqADU[6] {
		return ProtocolDataUnit{}, fmt.Errorf("%w: response unit id %d does not match request %d", ErrProtocolError, respADU[6], reqADU[6])
	}
	length := binary.BigEndian.Uint16(respADU[4:])
	pduLength := len(respADU) - tcpHeaderSize
	if pduLength <= 0 || int(length) != 1+pduLength {
		return ProtocolDataUnit{}, fmt.Errorf("%w: MBAP length %d does not match pdu length %d", ErrProtocolError, length, pduLength)
	}
	return ProtocolDataUnit{
		FunctionCode: respADU[tcpHeaderSize],
		Data:         respADU[tcpHeaderSize+1:],
	}, nil
}
