// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

// NewRTUClient constructs a Client that frames requests as Modbus RTU ADUs
// over stream, using address as the RTU slave/unit address. stream must
// already be connected (an open serial port or a serial-over-TCP socket);
// the Client never opens or closes it implicitly.
func NewRTUClient(stream Stream, address byte, opts ...Option) *Client {
	return newClient(stream, rtuVariant, address, opts...)
}
