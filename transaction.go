// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"fmt"
)

// protocolVariant captures the two framing-specific quantities the
// transaction driver needs: the size of the fixed prefix that is enough to
// detect an exception response, and the total ADU overhead (everything
// besides the PDU) for a non-exception response.
type protocolVariant struct {
	// headerSize is the number of framing bytes preceding the PDU
	// (7 for MBAP, 1 for the RTU address byte).
	headerSize int
	// exceptionPrefixSize is how many ADU bytes to read before the driver
	// can classify the response (header + 2 PDU bytes, plus RTU's trailing
	// CRC since it arrives in that same first read for the minimum frame).
	exceptionPrefixSize int
	// aduOverhead is the total non-PDU byte count of a full ADU (header +
	// trailer, e.g. MBAP(7) or address+CRC(3)).
	aduOverhead int
	// verifyExceptionPrefix validates an exception-sized prefix before its
	// exception code is surfaced. Nil when the prefix carries no checksum
	// of its own (TCP); RTU's 5-byte exception frame is a complete ADU
	// whose trailing CRC must hold.
	verifyExceptionPrefix func(prefix []byte) error
}

var tcpVariant = protocolVariant{headerSize: tcpHeaderSize, exceptionPrefixSize: tcpExceptionPrefixSize, aduOverhead: tcpHeaderSize}
var rtuVariant = protocolVariant{headerSize: 1, exceptionPrefixSize: rtuExceptionPrefixSize, aduOverhead: 1 + 2, verifyExceptionPrefix: verifyCRC} // address + crc

// transact runs one protocol-generic request/response cycle:
//
//  1. write the full request ADU; await drain.
//  2. read exactly exceptionPrefixSize bytes.
//  3. classify: if the PDU's function code has the exception bit set,
//     decode the exception and return without reading further.
//  4. otherwise, read the remainder implied by the response-size oracle.
//  5. concatenate and return the full response ADU to the caller's codec.
//
// reqADU is the already-encoded request; reqPDU is its PDU portion (used to
// consult the response-size oracle).
func transact(ctx context.Context, stream Stream, variant protocolVariant, reqADU, reqPDU []byte) ([]byte, error) {
	if err := stream.Write(ctx, reqADU); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	prefix, err := stream.ReadFull(ctx, variant.exceptionPrefixSize)
	if err != nil {
		return nil, fmt.Errorf("reading response prefix: %w", err)
	}

	modbusErr, err := decodeException(reqPDU[0], prefix[variant.headerSize:variant.headerSize+2])
	if err != nil {
		return nil, err
	}
	if modbusErr != nil {
		if variant.verifyExceptionPrefix != nil {
			if err := variant.verifyExceptionPrefix(prefix); err != nil {
				return nil, err
			}
		}
		return nil, modbusErr
	}

	respPDUSize, err := responsePDUSize(reqPDU)
	if err != nil {
		return nil, err
	}
	totalADUSize := variant.aduOverhead + respPDUSize
	remaining := totalADUSize - variant.exceptionPrefixSize
	if remaining < 0 {
		return nil, fmt.Errorf("%w: computed response size %d is smaller than the exception prefix %d", ErrInvalidResponse, totalADUSize, variant.exceptionPrefixSize)
	}
	if remaining == 0 {
		return prefix, nil
	}

	rest, err := stream.ReadFull(ctx, remaining)
	if err != nil {
		return nil, fmt.Errorf("reading response remainder: %w", err)
	}
	return append(prefix, rest...), nil
}
