// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package integration

import (
	"context"

	"github.com/lumberbarons/modbusio"
	"github.com/lumberbarons/modbusio/transport"
)

// dialTCP and openSerial keep the tests on the same construction path a
// caller would use: the transport package, never a hand-rolled stream.

func dialTCP(ctx context.Context, address string) (modbus.Stream, error) {
	return transport.DialTCP(ctx, address)
}

func openSerial(devicePath string, baudRate int) (modbus.Stream, error) {
	return transport.OpenSerial(devicePath, transport.SerialMode{BaudRate: baudRate})
}
