// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/lumberbarons/modbusio"
)

func TestOpenRejectsUnsupportedScheme(t *testing.T) {
	for _, rawURL := range []string{
		"udp://localhost:502",
		"http://localhost",
		"modbus://device",
	} {
		_, _, err := Open(context.Background(), rawURL)
		if !errors.Is(err, modbus.ErrUnsupportedScheme) {
			t.Errorf("Open(%q): got %v, want ErrUnsupportedScheme", rawURL, err)
		}
	}
}

func TestWithDefaultPort(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"localhost", "localhost:502"},
		{"localhost:5020", "localhost:5020"},
		{"10.0.0.7", "10.0.0.7:502"},
		{"[::1]:502", "[::1]:502"},
	}
	for _, tt := range tests {
		if got := withDefaultPort(tt.address); got != tt.want {
			t.Errorf("withDefaultPort(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestSerialModeFromQuery(t *testing.T) {
	q, err := url.ParseQuery("baud=9600&databits=7&stopbits=2&parity=even")
	if err != nil {
		t.Fatal(err)
	}
	mode, err := serialModeFromQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	want := SerialMode{BaudRate: 9600, DataBits: 7, StopBits: TwoStopBits, Parity: EvenParity}
	if mode != want {
		t.Errorf("serialModeFromQuery = %+v, want %+v", mode, want)
	}
}

func TestSerialModeFromQueryDefaults(t *testing.T) {
	mode, err := serialModeFromQuery(url.Values{})
	if err != nil {
		t.Fatal(err)
	}
	if mode.StopBits != OneStopBit || mode.Parity != NoParity {
		t.Errorf("empty query: got %+v, want one stop bit, no parity", mode)
	}
	applied := mode.withDefaults()
	if applied.BaudRate != 19200 || applied.DataBits != 8 {
		t.Errorf("withDefaults: got %+v, want 19200 baud, 8 data bits", applied)
	}
}

func TestSerialModeFromQueryRejectsBadValues(t *testing.T) {
	for _, raw := range []string{"baud=fast", "stopbits=3", "parity=mark"} {
		q, err := url.ParseQuery(raw)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := serialModeFromQuery(q); err == nil {
			t.Errorf("serialModeFromQuery(%q): expected error", raw)
		}
	}
}
