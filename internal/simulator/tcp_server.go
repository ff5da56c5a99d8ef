// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package simulator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/lumberbarons/modbusio"
)

const (
	tcpProtocolIdentifier uint16 = 0x0000
	tcpHeaderSize                = 7
	tcpMaxLength          uint16 = 260
)

// TCPServer serves Modbus/TCP on a listening socket.
type TCPServer struct {
	handler  *Handler
	listener net.Listener
	address  string
	logger   *log.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// TCPServerConfig holds configuration for the TCP server.
type TCPServerConfig struct {
	Address string // e.g. "localhost:5020"; ":0" picks a free port
	Logger  *log.Logger
}

// NewTCPServer creates a TCP server over ds.
func NewTCPServer(ds *DataStore, config *TCPServerConfig) (*TCPServer, error) {
	if config == nil {
		config = &TCPServerConfig{}
	}
	if config.Address == "" {
		config.Address = "localhost:5020"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stdout, "tcp-server: ", log.LstdFlags)
	}

	return &TCPServer{
		handler:  NewHandler(ds),
		address:  config.Address,
		logger:   config.Logger,
		stopChan: make(chan struct{}),
	}, nil
}

// Address returns the address the server is listening on.
func (s *TCPServer) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// Start begins listening and accepting connections.
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	s.listener = listener
	s.logger.Printf("TCP server listening on %s", s.listener.Addr())

	s.wg.Add(1)
	go s.acceptLoop()

	time.Sleep(100 * time.Millisecond)
	return nil
}

// Stop closes the listener and waits for all connections to finish.
func (s *TCPServer) Stop() error {
	close(s.stopChan)

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	s.logger.Printf("TCP server stopped")
	return nil
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		// A short accept deadline lets the loop check stopChan.
		if tcpListener, ok := s.listener.(*net.TCPListener); ok {
			if err := tcpListener.SetDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
				s.logger.Printf("warning: failed to set accept deadline: %v", err)
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Printf("error accepting connection: %v", err)
				continue
			}
		}

		s.logger.Printf("accepted connection from %s", conn.RemoteAddr())
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection serves request/response cycles on one connection until
// it closes or the server stops.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		select {
		case <-s.stopChan:
			s.logger.Printf("closing connection from %s (server stopping)", conn.RemoteAddr())
			return
		default:
			if done := s.serveOne(conn); done {
				return
			}
		}
	}
}

// serveOne reads one MBAP-framed request and writes the response. It
// returns true when the connection should be dropped.
func (s *TCPServer) serveOne(conn net.Conn) bool {
	if err := conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
		s.logger.Printf("warning: failed to set read deadline: %v", err)
		return true
	}

	header := make([]byte, tcpHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			// Expected; lets the caller check stopChan.
			return false
		}
		if err == io.EOF {
			s.logger.Printf("connection closed by %s", conn.RemoteAddr())
			return true
		}
		s.logger.Printf("error reading header from %s: %v", conn.RemoteAddr(), err)
		return true
	}

	transactionID := binary.BigEndian.Uint16(header[0:2])
	protocolID := binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint16(header[4:6])
	unitID := header[6]

	if protocolID != tcpProtocolIdentifier {
		s.logger.Printf("invalid protocol ID: %d", protocolID)
		return false
	}
	if length < 2 || length > tcpMaxLength {
		s.logger.Printf("invalid length: %d", length)
		return false
	}

	// The length field covers the unit id plus the PDU.
	pduData := make([]byte, int(length)-1)
	if _, err := io.ReadFull(conn, pduData); err != nil {
		s.logger.Printf("error reading PDU from %s: %v", conn.RemoteAddr(), err)
		return true
	}

	s.logger.Printf("received from %s: % x % x", conn.RemoteAddr(), header, pduData)

	responsePDU := s.handler.HandleRequest(&modbus.ProtocolDataUnit{
		FunctionCode: pduData[0],
		Data:         pduData[1:],
	})
	if responsePDU == nil {
		// Simulated timeout: keep the connection open, send nothing.
		return false
	}

	response := make([]byte, tcpHeaderSize+1+len(responsePDU.Data))
	binary.BigEndian.PutUint16(response[0:2], transactionID)
	binary.BigEndian.PutUint16(response[2:4], protocolID)
	binary.BigEndian.PutUint16(response[4:6], uint16(2+len(responsePDU.Data)))
	response[6] = unitID
	response[7] = responsePDU.FunctionCode
	copy(response[8:], responsePDU.Data)

	s.logger.Printf("sending to %s: % x", conn.RemoteAddr(), response)

	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		s.logger.Printf("warning: failed to set write deadline: %v", err)
		return true
	}
	if _, err := conn.Write(response); err != nil {
		s.logger.Printf("error writing response to %s: %v", conn.RemoteAddr(), err)
		return true
	}
	return false
}
