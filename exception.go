// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "fmt"

// isExceptionPDU reports whether the response PDU's first byte has the
// exception bit set.
func isExceptionPDU(pduFunctionCode byte) bool {
	return pduFunctionCode&exceptionBit != 0
}

// decodeException inspects the short fixed-length exception-prefix bytes
// of a response ADU's PDU portion (`fc|0x80, excode`) and, if the high bit
// of the function code is set, returns the typed *ModbusError. The caller
// must not have read beyond the exception prefix yet: on an exception the
// driver stops here without over-reading the stream.
func decodeException(requestFunctionCode byte, pduPrefix []byte) (*ModbusError, error) {
	if len(pduPrefix) < 2 {
		return nil, fmt.Errorf("%w: exception prefix too short", ErrShortFrame)
	}
	fc := pduPrefix[0]
	if !isExceptionPDU(fc) {
		return nil, nil
	}
	if fc&^exceptionBit != requestFunctionCode {
		return nil, fmt.Errorf("%w: exception function code %d does not match request %d", ErrProtocolError, fc&^exceptionBit, requestFunctionCode)
	}
	return &ModbusError{FunctionCode: fc &^ exceptionBit, ExceptionCode: pduPrefix[1]}, nil
}
