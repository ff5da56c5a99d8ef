// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package simulator

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/creack/pty"
)

// PtyPair is a pseudo-terminal pair: the RTU server reads and writes the
// master side, and the client opens SlavePath as if it were a serial
// device. All master-side operations take the mutex so Close can race a
// blocked reader safely.
type PtyPair struct {
	mu         sync.Mutex
	Master     *os.File
	Slave      *os.File
	MasterPath string
	SlavePath  string
}

// CreatePtyPair opens a new pseudo-terminal pair.
func CreatePtyPair() (*PtyPair, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open pty: %w", err)
	}
	return &PtyPair{
		Master:     master,
		Slave:      slave,
		MasterPath: master.Name(),
		SlavePath:  slave.Name(),
	}, nil
}

// master returns the master file, or nil once closed.
func (p *PtyPair) master() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Master
}

// Close closes both sides of the pair.
func (p *PtyPair) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.Master != nil {
		if e := p.Master.Close(); e != nil && err == nil {
			err = e
		}
		p.Master = nil
	}
	if p.Slave != nil {
		if e := p.Slave.Close(); e != nil && err == nil {
			err = e
		}
		p.Slave = nil
	}
	return err
}

// Read reads from the master side.
func (p *PtyPair) Read(b []byte) (int, error) {
	m := p.master()
	if m == nil {
		return 0, os.ErrClosed
	}
	return m.Read(b)
}

// Write writes to the master side.
func (p *PtyPair) Write(b []byte) (int, error) {
	m := p.master()
	if m == nil {
		return 0, os.ErrClosed
	}
	return m.Write(b)
}

// SetReadDeadline sets the master side's read deadline.
func (p *PtyPair) SetReadDeadline(t time.Time) error {
	m := p.master()
	if m == nil {
		return os.ErrClosed
	}
	return m.SetReadDeadline(t)
}

// Sync flushes the master side.
func (p *PtyPair) Sync() error {
	m := p.master()
	if m == nil {
		return os.ErrClosed
	}
	return m.Sync()
}
