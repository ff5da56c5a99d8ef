// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap these with fmt.Errorf("...: %w", ...) at the
// raising site.
var (
	// ErrInvalidQuantity is returned when a quantity argument is outside
	// its function code's valid range.
	ErrInvalidQuantity = errors.New("modbus: invalid quantity")

	// ErrInvalidData is returned for request data the codec cannot encode
	// or size: an RTU frame longer than 256 bytes, or a request PDU that is
	// empty, carries an unsupported function code, or is too short to hold
	// its quantity field.
	ErrInvalidData = errors.New("modbus: invalid data")

	// ErrInvalidResponse is returned when the response PDU's self-declared
	// byte count, length, or echoed fields don't match what the request
	// implies. The stream may be desynchronized; close and reopen it.
	ErrInvalidResponse = errors.New("modbus: invalid response")

	// ErrProtocolError is returned for MBAP/RTU framing check failures
	// (protocol id, transaction id, unit id, address, CRC).
	ErrProtocolError = errors.New("modbus: protocol error")

	// ErrShortFrame is returned when an ADU is shorter than the minimum
	// size its framing requires.
	ErrShortFrame = errors.New("modbus: short frame")

	// ErrConcurrentTransaction is returned by the one-shot guard when a
	// second transaction is attempted on a Client while one is already in
	// flight.
	ErrConcurrentTransaction = errors.New("modbus: concurrent transaction on a single client is not supported")

	// ErrUnsupportedScheme is returned by the transport package's URL
	// factory for an unrecognized scheme.
	ErrUnsupportedScheme = errors.New("modbus: unsupported scheme")
)

// exceptionNames maps exception codes to their standard names.
var exceptionNames = map[byte]string{
	ExceptionCodeIllegalFunction:        "illegal function",
	ExceptionCodeIllegalDataAddress:     "illegal data address",
	ExceptionCodeIllegalDataValue:       "illegal data value",
	ExceptionCodeServerDeviceFailure:    "server device failure",
	ExceptionCodeAcknowledge:            "acknowledge",
	ExceptionCodeServerDeviceBusy:       "server device busy",
	ExceptionCodeNegativeAcknowledge:    "negative acknowledge",
	ExceptionCodeMemoryParityError:      "memory parity error",
	ExceptionCodeGatewayPathUnavailable: "gateway path unavailable",
	ExceptionCodeGatewayTargetFailed:    "gateway target device failed to respond",
}

// ModbusError is returned when a server responds with an exception ADU.
// It is non-retryable at this layer.
type ModbusError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ModbusError) Error() string {
	name, ok := exceptionNames[e.ExceptionCode]
	if !ok {
		name = "unknown exception"
	}
	return fmt.Sprintf("modbus: function %d: exception %d (%s)", e.FunctionCode, e.ExceptionCode, name)
}

// Is reports whether err is a ProtocolException, so callers can write
// errors.Is(err, modbus.ErrProtocolException).
func (e *ModbusError) Is(target error) bool {
	return target == ErrProtocolException
}

// ErrProtocolException is the sentinel matched by errors.Is against any
// *ModbusError, regardless of its specific exception code.
var ErrProtocolException = errors.New("modbus: protocol exception")
