// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package obex

import "testing"

func TestHeaderEncoding(t *testing.T) {
	tests := []struct {
		id       HeaderID
		encoding HeaderEncoding
		prefixed bool
		fixed    int
	}{
		{HeaderName, EncodingUnicode, true, 0},
		{HeaderTarget, EncodingBytes, true, 0},
		{HeaderApplicationParameters, EncodingBytes, true, 0},
		{HeaderSingleResponseMode, EncodingByte, false, 1},
		{HeaderSingleResponseModeParm, EncodingByte, false, 1},
		{HeaderConnectionID, EncodingWord, false, 4},
		{HeaderLength, EncodingWord, false, 4},
	}

	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			enc := tt.id.Encoding()
			if enc != tt.encoding {
				t.Errorf("Encoding() = %v, want %v", enc, tt.encoding)
			}
			if enc.LengthPrefixed() != tt.prefixed {
				t.Errorf("LengthPrefixed() = %v, want %v", enc.LengthPrefixed(), tt.prefixed)
			}
			if enc.FixedLen() != tt.fixed {
				t.Errorf("FixedLen() = %d, want %d", enc.FixedLen(), tt.fixed)
			}
		})
	}
}

func TestOpcodeFinalBit(t *testing.T) {
	if OpcodeGet.Final() {
		t.Error("GET without final bit reported final")
	}
	get := OpcodeGet.WithFinal(true)
	if get != 0x83 || !get.Final() {
		t.Errorf("GET with final = 0x%02x", uint8(get))
	}
	if get.Base() != OpcodeGet {
		t.Errorf("Base() = 0x%02x, want 0x%02x", uint8(get.Base()), uint8(OpcodeGet))
	}
	if OpcodeConnect.WithFinal(false) != OpcodeConnect {
		t.Error("CONNECT must keep its final bit")
	}
	if OpcodeConnect.Base() != OpcodeConnect {
		t.Error("CONNECT base changed")
	}
	if got := Opcode(0x82).String(); got != "PUT" {
		t.Errorf("String() = %q, want PUT", got)
	}
}
