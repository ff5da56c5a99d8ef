// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package simulator is test infrastructure: an in-memory Modbus server
// used by the integration tests and the modbus-sim command. It is not part
// of the library's public API.
package simulator

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// maxAddress is the size of each of the four Modbus address spaces.
const maxAddress = 65536

// DataStore is the in-memory storage behind the simulated server. It keeps
// the four Modbus address spaces:
//   - coils: read/write bits (function codes 1, 5, 15)
//   - discrete inputs: read-only bits (function code 2)
//   - holding registers: read/write 16-bit words (function codes 3, 6, 16)
//   - input registers: read-only 16-bit words (function code 4)
type DataStore struct {
	mu sync.RWMutex

	coils          []bool
	discreteInputs []bool
	holdingRegs    []uint16
	inputRegs      []uint16

	// Optional names per address, for logging.
	coilNames          map[uint16]string
	discreteInputNames map[uint16]string
	holdingRegNames    map[uint16]string
	inputRegNames      map[uint16]string

	delayConfig *DelayConfigSet
}

// RegisterConfig is a named register with an initial value.
type RegisterConfig struct {
	Name  string `json:"name"`
	Value uint16 `json:"value"`
}

// CoilConfig is a named coil with an initial value.
type CoilConfig struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

// DelayConfig shapes the server's response timing for an address: a base
// delay (Go duration string), a jitter percentage applied to it, and a
// probability of never responding at all.
type DelayConfig struct {
	Delay              string  `json:"delay,omitempty"`
	Jitter             int     `json:"jitter,omitempty"`
	TimeoutProbability float64 `json:"timeoutProbability,omitempty"`
}

// RegisterType identifies one of the four Modbus address spaces.
type RegisterType string

const (
	RegisterTypeCoil          RegisterType = "coils"
	RegisterTypeDiscreteInput RegisterType = "discreteInputs"
	RegisterTypeHoldingReg    RegisterType = "holdingRegs"
	RegisterTypeInputReg      RegisterType = "inputRegs"
)

// DelayConfigSet holds per-type defaults and per-address overrides.
type DelayConfigSet struct {
	Global         map[RegisterType]DelayConfig `json:"global,omitempty"`
	Coils          map[uint16]DelayConfig       `json:"coils,omitempty"`
	DiscreteInputs map[uint16]DelayConfig       `json:"discreteInputs,omitempty"`
	HoldingRegs    map[uint16]DelayConfig       `json:"holdingRegs,omitempty"`
	InputRegs      map[uint16]DelayConfig       `json:"inputRegs,omitempty"`
}

// DataStoreConfig seeds a DataStore. All fields are optional; absent
// addresses default to zero values.
type DataStoreConfig struct {
	Coils          map[uint16]bool   `json:"Coils,omitempty"`
	DiscreteInputs map[uint16]bool   `json:"DiscreteInputs,omitempty"`
	HoldingRegs    map[uint16]uint16 `json:"HoldingRegs,omitempty"`
	InputRegs      map[uint16]uint16 `json:"InputRegs,omitempty"`

	NamedCoils          map[uint16]CoilConfig     `json:"NamedCoils,omitempty"`
	NamedDiscreteInputs map[uint16]CoilConfig     `json:"NamedDiscreteInputs,omitempty"`
	NamedHoldingRegs    map[uint16]RegisterConfig `json:"NamedHoldingRegs,omitempty"`
	NamedInputRegs      map[uint16]RegisterConfig `json:"NamedInputRegs,omitempty"`

	Delays *DelayConfigSet `json:"delays,omitempty"`
}

// NewDataStore creates a DataStore seeded from config (which may be nil).
func NewDataStore(config *DataStoreConfig) *DataStore {
	ds := &DataStore{
		coils:              make([]bool, maxAddress),
		discreteInputs:     make([]bool, maxAddress),
		holdingRegs:        make([]uint16, maxAddress),
		inputRegs:          make([]uint16, maxAddress),
		coilNames:          make(map[uint16]string),
		discreteInputNames: make(map[uint16]string),
		holdingRegNames:    make(map[uint16]string),
		inputRegNames:      make(map[uint16]string),
	}
	if config == nil {
		return ds
	}

	ds.delayConfig = config.Delays
	for addr, val := range config.Coils {
		ds.coils[addr] = val
	}
	for addr, val := range config.DiscreteInputs {
		ds.discreteInputs[addr] = val
	}
	for addr, val := range config.HoldingRegs {
		ds.holdingRegs[addr] = val
	}
	for addr, val := range config.InputRegs {
		ds.inputRegs[addr] = val
	}

	for addr, cfg := range config.NamedCoils {
		ds.coils[addr] = cfg.Value
		if cfg.Name != "" {
			ds.coilNames[addr] = cfg.Name
		}
	}
	for addr, cfg := range config.NamedDiscreteInputs {
		ds.discreteInputs[addr] = cfg.Value
		if cfg.Name != "" {
			ds.discreteInputNames[addr] = cfg.Name
		}
	}
	for addr, cfg := range config.NamedHoldingRegs {
		ds.holdingRegs[addr] = cfg.Value
		if cfg.Name != "" {
			ds.holdingRegNames[addr] = cfg.Name
		}
	}
	for addr, cfg := range config.NamedInputRegs {
		ds.inputRegs[addr] = cfg.Value
		if cfg.Name != "" {
			ds.inputRegNames[addr] = cfg.Name
		}
	}
	return ds
}

// ReadCoils reads quantity coils starting at address.
func (ds *DataStore) ReadCoils(address, quantity uint16) ([]bool, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if err := ds.validateRange(address, quantity); err != nil {
		return nil, err
	}
	result := make([]bool, quantity)
	copy(result, ds.coils[address:])
	return result, nil
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address.
func (ds *DataStore) ReadDiscreteInputs(address, quantity uint16) ([]bool, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if err := ds.validateRange(address, quantity); err != nil {
		return nil, err
	}
	result := make([]bool, quantity)
	copy(result, ds.discreteInputs[address:])
	return result, nil
}

// ReadHoldingRegisters reads quantity holding registers starting at address.
func (ds *DataStore) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if err := ds.validateRange(address, quantity); err != nil {
		return nil, err
	}
	result := make([]uint16, quantity)
	copy(result, ds.holdingRegs[address:])
	return result, nil
}

// ReadInputRegisters reads quantity input registers starting at address.
func (ds *DataStore) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if err := ds.validateRange(address, quantity); err != nil {
		return nil, err
	}
	result := make([]uint16, quantity)
	copy(result, ds.inputRegs[address:])
	return result, nil
}

// WriteSingleCoil writes one coil.
func (ds *DataStore) WriteSingleCoil(address uint16, value bool) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.coils[address] = value
	return nil
}

// WriteMultipleCoils writes values starting at address.
func (ds *DataStore) WriteMultipleCoils(address uint16, values []bool) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if err := ds.validateRange(address, uint16(len(values))); err != nil {
		return err
	}
	copy(ds.coils[address:], values)
	return nil
}

// WriteSingleRegister writes one holding register.
func (ds *DataStore) WriteSingleRegister(address, value uint16) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.holdingRegs[address] = value
	return nil
}

// WriteMultipleRegisters writes values starting at address.
func (ds *DataStore) WriteMultipleRegisters(address uint16, values []uint16) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if err := ds.validateRange(address, uint16(len(values))); err != nil {
		return err
	}
	copy(ds.holdingRegs[address:], values)
	return nil
}

// validateRange checks that address+quantity stays within the address
// space.
func (ds *DataStore) validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	if uint32(address)+uint32(quantity) > maxAddress {
		return fmt.Errorf("address range %d-%d exceeds maximum", address, uint32(address)+uint32(quantity)-1)
	}
	return nil
}

// CoilName returns the configured name of a coil, or "".
func (ds *DataStore) CoilName(address uint16) string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.coilNames[address]
}

// DiscreteInputName returns the configured name of a discrete input, or "".
func (ds *DataStore) DiscreteInputName(address uint16) string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.discreteInputNames[address]
}

// HoldingRegName returns the configured name of a holding register, or "".
func (ds *DataStore) HoldingRegName(address uint16) string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.holdingRegNames[address]
}

// InputRegName returns the configured name of an input register, or "".
func (ds *DataStore) InputRegName(address uint16) string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.inputRegNames[address]
}

// DelayConfigFor returns the delay configuration applying to an access:
// the per-address override if one exists, otherwise the per-type global
// default, otherwise nil.
func (ds *DataStore) DelayConfigFor(regType RegisterType, address uint16) *DelayConfig {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if ds.delayConfig == nil {
		return nil
	}

	var perAddress map[uint16]DelayConfig
	switch regType {
	case RegisterTypeCoil:
		perAddress = ds.delayConfig.Coils
	case RegisterTypeDiscreteInput:
		perAddress = ds.delayConfig.DiscreteInputs
	case RegisterTypeHoldingReg:
		perAddress = ds.delayConfig.HoldingRegs
	case RegisterTypeInputReg:
		perAddress = ds.delayConfig.InputRegs
	}
	if cfg, ok := perAddress[address]; ok {
		return &cfg
	}
	if cfg, ok := ds.delayConfig.Global[regType]; ok {
		return &cfg
	}
	return nil
}

// ApplyDelay sleeps for the configured delay (with jitter) before an
// access and rolls the timeout probability. It returns false when the
// server should drop the request without responding. disableTimeout
// suppresses the drop behavior; the RTU server passes true because a
// silent drop over a pty leaves the client blocked with no line-level
// timeout to save it.
func (ds *DataStore) ApplyDelay(regType RegisterType, address uint16, disableTimeout bool) bool {
	cfg := ds.DelayConfigFor(regType, address)
	if cfg == nil {
		return true
	}

	if !disableTimeout && cfg.TimeoutProbability > 0 {
		if rand.Float64() < cfg.TimeoutProbability {
			return false
		}
	}

	if cfg.Delay != "" {
		base, err := time.ParseDuration(cfg.Delay)
		if err != nil {
			// Malformed duration in config: skip the delay.
			return true
		}
		delay := base
		if cfg.Jitter > 0 && cfg.Jitter <= 100 {
			jitterRange := float64(base) * float64(cfg.Jitter) / 100.0
			delay = base + time.Duration((rand.Float64()*2-1)*jitterRange)
			if delay < 0 {
				delay = 0
			}
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	return true
}
