// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// modbus-cli exercises the client library against a live device: one
// subcommand per supported function code, with the target selected by URL
// (tcp://, serial://, serial-tcp://, rfc2217://).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lumberbarons/modbusio"
	"github.com/lumberbarons/modbusio/transport"
)

func main() {
	app := &cli.App{
		Name:  "modbus-cli",
		Usage: "Command-line tool for Modbus communication",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "url",
				Aliases:  []string{"u"},
				Usage:    "Target url, e.g. tcp://host:502 or serial:///dev/ttyUSB0?baud=19200",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "slave-id",
				Aliases: []string{"s"},
				Usage:   "Modbus slave/unit ID",
				Value:   1,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Timeout for the whole operation",
				Value:   5 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "signed",
				Usage: "Interpret register values as signed 16-bit integers",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "read-coils",
				Usage: "Read coils (function code 1)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
					&cli.UintFlag{Name: "count", Usage: "Number of coils to read (1-2000)", Required: true},
				},
				Action: func(c *cli.Context) error {
					return withClient(c, func(ctx context.Context, client *modbus.Client) error {
						bits, err := client.ReadCoils(ctx, uint16(c.Uint("start")), uint16(c.Uint("count")))
						if err != nil {
							return fmt.Errorf("failed to read coils: %w", err)
						}
						printBits(uint16(c.Uint("start")), bits)
						return nil
					})
				},
			},
			{
				Name:  "read-discrete-inputs",
				Usage: "Read discrete inputs (function code 2)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
					&cli.UintFlag{Name: "count", Usage: "Number of inputs to read (1-2000)", Required: true},
				},
				Action: func(c *cli.Context) error {
					return withClient(c, func(ctx context.Context, client *modbus.Client) error {
						bits, err := client.ReadDiscreteInputs(ctx, uint16(c.Uint("start")), uint16(c.Uint("count")))
						if err != nil {
							return fmt.Errorf("failed to read discrete inputs: %w", err)
						}
						printBits(uint16(c.Uint("start")), bits)
						return nil
					})
				},
			},
			{
				Name:  "read-holding-registers",
				Usage: "Read holding registers (function code 3)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
					&cli.UintFlag{Name: "count", Usage: "Number of registers to read (1-125)", Required: true},
					&cli.StringFlag{Name: "format", Usage: "Output format: hex, decimal", Value: "hex"},
				},
				Action: func(c *cli.Context) error {
					return withClient(c, func(ctx context.Context, client *modbus.Client) error {
						return readRegisters(ctx, c, client, client.ReadHoldingRegisters, client.ReadHoldingRegistersSigned)
					})
				},
			},
			{
				Name:  "read-input-registers",
				Usage: "Read input registers (function code 4)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
					&cli.UintFlag{Name: "count", Usage: "Number of registers to read (1-125)", Required: true},
					&cli.StringFlag{Name: "format", Usage: "Output format: hex, decimal", Value: "hex"},
				},
				Action: func(c *cli.Context) error {
					return withClient(c, func(ctx context.Context, client *modbus.Client) error {
						return readRegisters(ctx, c, client, client.ReadInputRegisters, client.ReadInputRegistersSigned)
					})
				},
			},
			{
				Name:  "write-coil",
				Usage: "Write a single coil (function code 5)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Usage: "Coil address", Required: true},
					&cli.BoolFlag{Name: "on", Usage: "Set the coil on (absent: off)"},
				},
				Action: func(c *cli.Context) error {
					return withClient(c, func(ctx context.Context, client *modbus.Client) error {
						value, err := client.WriteSingleCoil(ctx, uint16(c.Uint("address")), c.Bool("on"))
						if err != nil {
							return fmt.Errorf("failed to write coil: %w", err)
						}
						fmt.Printf("0x%04X: %t\n", c.Uint("address"), value)
						return nil
					})
				},
			},
			{
				Name:  "write-register",
				Usage: "Write a single holding register (function code 6)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Usage: "Register address", Required: true},
					&cli.StringFlag{Name: "value", Usage: "Value (decimal or 0x-prefixed hex)", Required: true},
				},
				Action: func(c *cli.Context) error {
					return withClient(c, func(ctx context.Context, client *modbus.Client) error {
						value, err := parseRegisterValue(c.String("value"))
						if err != nil {
							return err
						}
						echoed, err := client.WriteSingleRegister(ctx, uint16(c.Uint("address")), value)
						if err != nil {
							return fmt.Errorf("failed to write register: %w", err)
						}
						fmt.Printf("0x%04X: 0x%04X\n", c.Uint("address"), echoed)
						return nil
					})
				},
			},
			{
				Name:  "write-coils",
				Usage: "Write multiple coils (function code 15)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
					&cli.StringFlag{Name: "values", Usage: "Comma-separated bits, e.g. 1,0,1,1", Required: true},
				},
				Action: func(c *cli.Context) error {
					return withClient(c, func(ctx context.Context, client *modbus.Client) error {
						bits, err := parseBits(c.String("values"))
						if err != nil {
							return err
						}
						written, err := client.WriteMultipleCoils(ctx, uint16(c.Uint("start")), bits)
						if err != nil {
							return fmt.Errorf("failed to write coils: %w", err)
						}
						fmt.Printf("wrote %d coils at 0x%04X\n", written, c.Uint("start"))
						return nil
					})
				},
			},
			{
				Name:  "write-registers",
				Usage: "Write multiple holding registers (function code 16)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
					&cli.StringFlag{Name: "values", Usage: "Comma-separated values, e.g. 1,0x1F,42", Required: true},
				},
				Action: func(c *cli.Context) error {
					return withClient(c, func(ctx context.Context, client *modbus.Client) error {
						values, err := parseRegisterValues(c.String("values"))
						if err != nil {
							return err
						}
						written, err := client.WriteMultipleRegisters(ctx, uint16(c.Uint("start")), values)
						if err != nil {
							return fmt.Errorf("failed to write registers: %w", err)
						}
						fmt.Printf("wrote %d registers at 0x%04X\n", written, c.Uint("start"))
						return nil
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withClient opens the stream named by --url, binds a client with the
// matching framing, runs fn, and closes the stream. The context carries
// the --timeout deadline and is cancelled on SIGINT/SIGTERM.
func withClient(c *cli.Context, fn func(context.Context, *modbus.Client) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()

	stream, protocol, err := transport.Open(ctx, c.String("url"))
	if err != nil {
		return err
	}
	defer stream.Close()

	opts := []modbus.Option{modbus.WithSignedRegisters(c.Bool("signed"))}
	unitID := byte(c.Int("slave-id"))

	var client *modbus.Client
	switch protocol {
	case transport.ProtocolTCP:
		client = modbus.NewTCPClient(stream, unitID, opts...)
	default:
		client = modbus.NewRTUClient(stream, unitID, opts...)
	}
	return fn(ctx, client)
}

// readRegisters runs one of the register-read commands, picking the signed
// or unsigned accessor from the client's configuration.
func readRegisters(ctx context.Context, c *cli.Context, client *modbus.Client,
	readUnsigned func(context.Context, uint16, uint16) ([]uint16, error),
	readSigned func(context.Context, uint16, uint16) ([]int16, error)) error {

	start := uint16(c.Uint("start"))
	count := uint16(c.Uint("count"))
	format := c.String("format")

	if client.SignedRegisters() {
		values, err := readSigned(ctx, start, count)
		if err != nil {
			return fmt.Errorf("failed to read registers: %w", err)
		}
		for i, v := range values {
			fmt.Printf("0x%04X: %d\n", start+uint16(i), v)
		}
		return nil
	}

	values, err := readUnsigned(ctx, start, count)
	if err != nil {
		return fmt.Errorf("failed to read registers: %w", err)
	}
	for i, v := range values {
		if format == "decimal" {
			fmt.Printf("0x%04X: %d\n", start+uint16(i), v)
		} else {
			fmt.Printf("0x%04X: 0x%04X\n", start+uint16(i), v)
		}
	}
	return nil
}

func printBits(start uint16, bits modbus.BitVector) {
	for i, b := range bits {
		v := 0
		if b {
			v = 1
		}
		fmt.Printf("0x%04X: %d\n", start+uint16(i), v)
	}
}

func parseBits(s string) (modbus.BitVector, error) {
	parts := strings.Split(s, ",")
	bits := make(modbus.BitVector, 0, len(parts))
	for _, p := range parts {
		switch strings.TrimSpace(p) {
		case "1", "true", "on":
			bits = append(bits, true)
		case "0", "false", "off":
			bits = append(bits, false)
		default:
			return nil, fmt.Errorf("invalid bit value %q", p)
		}
	}
	return bits, nil
}

func parseRegisterValue(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid register value %q: %w", s, err)
	}
	return uint16(v), nil
}

func parseRegisterValues(s string) ([]uint16, error) {
	parts := strings.Split(s, ",")
	values := make([]uint16, 0, len(parts))
	for _, p := range parts {
		v, err := parseRegisterValue(p)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}
