// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/lumberbarons/modbusio"
)

// defaultTCPPort is the IANA-registered Modbus/TCP port.
const defaultTCPPort = "502"

// DialTCP establishes a TCP connection to address and wraps it as a
// modbus.Stream. If address carries no port, 502 is used. The caller owns
// the returned stream and must close it.
func DialTCP(ctx context.Context, address string) (modbus.Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", withDefaultPort(address))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	return modbus.NewStream(conn), nil
}

// withDefaultPort appends the Modbus/TCP port to an address that names
// only a host.
func withDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, defaultTCPPort)
}
