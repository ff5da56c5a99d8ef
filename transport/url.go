// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package transport

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/lumberbarons/modbusio"
)

// Protocol names the framing a stream returned by Open should be driven
// with.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolRTU Protocol = "rtu"
)

// Open inspects rawURL's scheme and constructs the matching stream:
//
//	tcp://host[:502]          TCP stream, Modbus/TCP framing
//	serial:///dev/ttyUSB0     local serial device, RTU framing
//	serial-tango:///dev/...   same as serial://
//	serial-tcp://host:port    TCP stream carrying RTU frames
//	rfc2217://host:port       TCP stream carrying RTU frames
//
// serial:// and serial-tango:// accept line settings as query parameters
// (baud, databits, stopbits, parity=none|odd|even). For serial-tcp:// and
// rfc2217:// the query is ignored and the
// socket carries raw RTU bytes; the RFC 2217 COM-port-control negotiation
// is not performed, which suffices for ser2net-style gateways running in
// passthrough mode.
//
// Any other scheme fails with modbus.ErrUnsupportedScheme. The caller owns
// the returned stream and must close it.
func Open(ctx context.Context, rawURL string) (modbus.Stream, Protocol, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "tcp":
		stream, err := DialTCP(ctx, u.Host)
		if err != nil {
			return nil, "", err
		}
		return stream, ProtocolTCP, nil
	case "serial-tcp", "rfc2217":
		stream, err := DialTCP(ctx, u.Host)
		if err != nil {
			return nil, "", err
		}
		return stream, ProtocolRTU, nil
	case "serial", "serial-tango":
		device := u.Host + u.Path
		if device == "" {
			return nil, "", fmt.Errorf("%s url %q names no device", u.Scheme, rawURL)
		}
		mode, err := serialModeFromQuery(u.Query())
		if err != nil {
			return nil, "", err
		}
		stream, err := OpenSerial(device, mode)
		if err != nil {
			return nil, "", err
		}
		return stream, ProtocolRTU, nil
	default:
		return nil, "", fmt.Errorf("%w: %q", modbus.ErrUnsupportedScheme, u.Scheme)
	}
}

// serialModeFromQuery decodes serial line settings from url query
// parameters, leaving absent settings at their SerialMode defaults.
func serialModeFromQuery(q url.Values) (SerialMode, error) {
	var mode SerialMode
	var err error
	if v := q.Get("baud"); v != "" {
		if mode.BaudRate, err = strconv.Atoi(v); err != nil {
			return mode, fmt.Errorf("invalid baud %q: %w", v, err)
		}
	}
	if v := q.Get("databits"); v != "" {
		if mode.DataBits, err = strconv.Atoi(v); err != nil {
			return mode, fmt.Errorf("invalid databits %q: %w", v, err)
		}
	}
	switch v := q.Get("stopbits"); v {
	case "", "1":
		mode.StopBits = OneStopBit
	case "2":
		mode.StopBits = TwoStopBits
	default:
		return mode, fmt.Errorf("invalid stopbits %q", v)
	}
	switch v := q.Get("parity"); v {
	case "", "none":
		mode.Parity = NoParity
	case "odd":
		mode.Parity = OddParity
	case "even":
		mode.Parity = EvenParity
	default:
		return mode, fmt.Errorf("invalid parity %q", v)
	}
	return mode, nil
}
