// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package testutil starts simulator servers for integration tests and
// tears them down with the test.
package testutil

import (
	"io"
	"log"
	"testing"

	"github.com/lumberbarons/modbusio/internal/simulator"
)

// quietLogger discards simulator chatter unless a test opts in.
func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// TCPSimulatorOption configures a TCP simulator.
type TCPSimulatorOption func(*tcpSimulatorConfig)

type tcpSimulatorConfig struct {
	config *simulator.DataStoreConfig
}

// WithTCPDataStoreConfig seeds the simulator's data store.
func WithTCPDataStoreConfig(config *simulator.DataStoreConfig) TCPSimulatorOption {
	return func(c *tcpSimulatorConfig) {
		c.config = config
	}
}

// StartTCPSimulator starts a Modbus/TCP simulator on a free local port.
// It returns a cleanup function to defer and the address clients should
// dial.
func StartTCPSimulator(t *testing.T, opts ...TCPSimulatorOption) (cleanup func(), address string) {
	t.Helper()

	config := &tcpSimulatorConfig{}
	for _, opt := range opts {
		opt(config)
	}

	ds := simulator.NewDataStore(config.config)
	server, err := simulator.NewTCPServer(ds, &simulator.TCPServerConfig{
		Address: "localhost:0",
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create TCP simulator: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("failed to start TCP simulator: %v", err)
	}

	address = server.Address()
	t.Logf("TCP simulator started on %s", address)

	cleanup = func() {
		if err := server.Stop(); err != nil {
			t.Errorf("failed to stop TCP simulator: %v", err)
		}
	}
	return cleanup, address
}

// RTUSimulatorOption configures an RTU simulator.
type RTUSimulatorOption func(*rtuSimulatorConfig)

type rtuSimulatorConfig struct {
	slaveID  byte
	baudRate int
	config   *simulator.DataStoreConfig
}

// WithSlaveID sets the simulator's slave address.
func WithSlaveID(id byte) RTUSimulatorOption {
	return func(c *rtuSimulatorConfig) {
		c.slaveID = id
	}
}

// WithBaudRate sets the simulated line's baud rate.
func WithBaudRate(rate int) RTUSimulatorOption {
	return func(c *rtuSimulatorConfig) {
		c.baudRate = rate
	}
}

// WithDataStoreConfig seeds the simulator's data store.
func WithDataStoreConfig(config *simulator.DataStoreConfig) RTUSimulatorOption {
	return func(c *rtuSimulatorConfig) {
		c.config = config
	}
}

// StartRTUSimulator starts a Modbus RTU simulator behind a pty. It returns
// a cleanup function to defer and the device path clients should open.
//
//	cleanup, devicePath := testutil.StartRTUSimulator(t,
//	    testutil.WithSlaveID(17),
//	    testutil.WithBaudRate(19200))
//	defer cleanup()
func StartRTUSimulator(t *testing.T, opts ...RTUSimulatorOption) (cleanup func(), devicePath string) {
	t.Helper()

	config := &rtuSimulatorConfig{
		slaveID:  1,
		baudRate: 19200,
	}
	for _, opt := range opts {
		opt(config)
	}

	ds := simulator.NewDataStore(config.config)
	server, err := simulator.NewRTUServer(ds, &simulator.RTUServerConfig{
		SlaveID:  config.slaveID,
		BaudRate: config.baudRate,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create RTU simulator: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("failed to start RTU simulator: %v", err)
	}

	devicePath = server.ClientDevicePath()
	t.Logf("RTU simulator started on %s (slave ID: %d)", devicePath, config.slaveID)

	cleanup = func() {
		if err := server.Stop(); err != nil {
			t.Errorf("failed to stop RTU simulator: %v", err)
		}
	}
	return cleanup, devicePath
}
