// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

// NewTCPClient constructs a Client that frames requests as Modbus/TCP
// (MBAP) ADUs over stream, using unitID as the MBAP unit identifier.
// stream must already be connected; the Client never dials it and never
// closes it implicitly.
func NewTCPClient(stream Stream, unitID byte, opts ...Option) *Client {
	return newClient(stream, tcpVariant, unitID, opts...)
}
