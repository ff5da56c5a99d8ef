// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package transport constructs the byte streams the modbus package
// consumes: TCP connections, local serial ports, and a URL factory that
// routes a scheme to the right one. The core modbus package never imports
// this package; everything here produces a modbus.Stream and hands
// ownership to the caller.
package transport

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/lumberbarons/modbusio"
)

// StopBits selects the number of stop bits on a serial line.
type StopBits int

const (
	OneStopBit  StopBits = 1
	TwoStopBits StopBits = 2
)

// Parity selects the parity scheme on a serial line.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// SerialMode holds the line settings for OpenSerial. Zero values fall back
// to 19200 baud, 8 data bits and one stop bit; the zero Parity is
// NoParity.
type SerialMode struct {
	BaudRate int
	DataBits int
	StopBits StopBits
	Parity   Parity
}

func (m SerialMode) withDefaults() SerialMode {
	if m.BaudRate == 0 {
		m.BaudRate = 19200
	}
	if m.DataBits == 0 {
		m.DataBits = 8
	}
	if m.StopBits == 0 {
		m.StopBits = OneStopBit
	}
	return m
}

// toSerialStopBits converts StopBits to the serial library's StopBits.
func toSerialStopBits(sb StopBits) serial.StopBits {
	switch sb {
	case TwoStopBits:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// toSerialParity converts Parity to the serial library's Parity.
func toSerialParity(p Parity) serial.Parity {
	switch p {
	case OddParity:
		return serial.OddParity
	case EvenParity:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

// OpenSerial opens the serial device at portName with the given line
// settings and wraps it as a modbus.Stream. The caller owns the returned
// stream and must close it; the modbus client never will.
func OpenSerial(portName string, mode SerialMode) (modbus.Stream, error) {
	mode = mode.withDefaults()
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		StopBits: toSerialStopBits(mode.StopBits),
		Parity:   toSerialParity(mode.Parity),
	})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}
	return modbus.NewStream(port), nil
}
