// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package integration drives the client façade end-to-end against the
// in-process simulator, over real TCP sockets and real pty-backed serial
// devices.
package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumberbarons/modbusio"
	"github.com/lumberbarons/modbusio/internal/simulator"
	"github.com/lumberbarons/modbusio/internal/testutil"
)

// seededConfig pre-populates the read-only address spaces so the read
// operations have something to verify against.
func seededConfig() *simulator.DataStoreConfig {
	return &simulator.DataStoreConfig{
		DiscreteInputs: map[uint16]bool{15: true, 16: false},
		InputRegs:      map[uint16]uint16{0: 0x1234, 1: 0xABCD},
	}
}

// exerciseClient runs every supported function code through client and
// checks the round-trips. Shared by the TCP and RTU tests.
func exerciseClient(ctx context.Context, t *testing.T, client *modbus.Client) {
	t.Helper()

	coils := modbus.BitVector{true, false, true, true}
	written, err := client.WriteMultipleCoils(ctx, 5, coils)
	if err != nil {
		t.Fatalf("WriteMultipleCoils: %v", err)
	}
	if written != 4 {
		t.Fatalf("WriteMultipleCoils: wrote %d, want 4", written)
	}

	gotCoils, err := client.ReadCoils(ctx, 5, 4)
	if err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	for i := range coils {
		if gotCoils[i] != coils[i] {
			t.Fatalf("ReadCoils: bit %d = %v, want %v", i, gotCoils[i], coils[i])
		}
	}

	on, err := client.WriteSingleCoil(ctx, 9, true)
	if err != nil {
		t.Fatalf("WriteSingleCoil: %v", err)
	}
	if !on {
		t.Fatal("WriteSingleCoil: echoed false, want true")
	}
	gotCoils, err = client.ReadCoils(ctx, 9, 1)
	if err != nil {
		t.Fatalf("ReadCoils after WriteSingleCoil: %v", err)
	}
	if len(gotCoils) != 1 || !gotCoils[0] {
		t.Fatalf("ReadCoils after WriteSingleCoil: got %v, want [true]", gotCoils)
	}

	inputs, err := client.ReadDiscreteInputs(ctx, 15, 2)
	if err != nil {
		t.Fatalf("ReadDiscreteInputs: %v", err)
	}
	if len(inputs) != 2 || !inputs[0] || inputs[1] {
		t.Fatalf("ReadDiscreteInputs: got %v, want [true false]", inputs)
	}

	echoed, err := client.WriteSingleRegister(ctx, 1, 0x1122)
	if err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}
	if echoed != 0x1122 {
		t.Fatalf("WriteSingleRegister: echoed %#04x, want 0x1122", echoed)
	}

	written, err = client.WriteMultipleRegisters(ctx, 10, []uint16{1, 2, 3})
	if err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}
	if written != 3 {
		t.Fatalf("WriteMultipleRegisters: wrote %d, want 3", written)
	}

	regs, err := client.ReadHoldingRegisters(ctx, 10, 3)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	for i, want := range []uint16{1, 2, 3} {
		if regs[i] != want {
			t.Fatalf("ReadHoldingRegisters: reg %d = %d, want %d", i, regs[i], want)
		}
	}

	iregs, err := client.ReadInputRegisters(ctx, 0, 2)
	if err != nil {
		t.Fatalf("ReadInputRegisters: %v", err)
	}
	if iregs[0] != 0x1234 || iregs[1] != 0xABCD {
		t.Fatalf("ReadInputRegisters: got %#04x %#04x, want 0x1234 0xABCD", iregs[0], iregs[1])
	}
}

func TestTCPClientAllFunctions(t *testing.T) {
	cleanup, address := testutil.StartTCPSimulator(t, testutil.WithTCPDataStoreConfig(seededConfig()))
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := dialTCP(ctx, address)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	exerciseClient(ctx, t, modbus.NewTCPClient(stream, 1))
}

func TestTCPClientServerException(t *testing.T) {
	cleanup, address := testutil.StartTCPSimulator(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := dialTCP(ctx, address)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	client := modbus.NewTCPClient(stream, 1)

	// 65500 + 100 overruns the 65536-word address space.
	_, err = client.ReadHoldingRegisters(ctx, 65500, 100)
	if !errors.Is(err, modbus.ErrProtocolException) {
		t.Fatalf("expected a protocol exception, got %v", err)
	}
	var mbErr *modbus.ModbusError
	if !errors.As(err, &mbErr) {
		t.Fatalf("expected *modbus.ModbusError, got %T", err)
	}
	if mbErr.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress {
		t.Fatalf("exception code = %d, want %d (illegal data address)", mbErr.ExceptionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	// The stream is still in sync after an exception response.
	if _, err := client.ReadHoldingRegisters(ctx, 0, 1); err != nil {
		t.Fatalf("read after exception: %v", err)
	}
}

func TestTCPClientSignedRegisters(t *testing.T) {
	cleanup, address := testutil.StartTCPSimulator(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := dialTCP(ctx, address)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	client := modbus.NewTCPClient(stream, 1, modbus.WithSignedRegisters(true))
	if !client.SignedRegisters() {
		t.Fatal("WithSignedRegisters(true) not applied")
	}

	if _, err := client.WriteMultipleRegistersSigned(ctx, 50, []int16{-21555, 42}); err != nil {
		t.Fatalf("WriteMultipleRegistersSigned: %v", err)
	}

	signed, err := client.ReadHoldingRegistersSigned(ctx, 50, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegistersSigned: %v", err)
	}
	if signed[0] != -21555 || signed[1] != 42 {
		t.Fatalf("signed read: got %v, want [-21555 42]", signed)
	}

	// The same wire bytes, unsigned.
	unsigned, err := client.ReadHoldingRegisters(ctx, 50, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if unsigned[0] != 0xABCD || unsigned[1] != 42 {
		t.Fatalf("unsigned read: got %v, want [43981 42]", unsigned)
	}
}
