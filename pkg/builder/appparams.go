// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"encoding/binary"

	"github.com/absmach/mobex/pkg/errors"
)

// AppParams accumulates (tag, length, value) triples for an Application
// Parameters header.
type AppParams []byte

// AppendUint8 appends a 1-byte tag.
func (p AppParams) AppendUint8(tag, v uint8) AppParams {
	return append(p, tag, 1, v)
}

// AppendUint16 appends a big-endian 2-byte tag.
func (p AppParams) AppendUint16(tag uint8, v uint16) AppParams {
	p = append(p, tag, 2)
	return binary.BigEndian.AppendUint16(p, v)
}

// AppendUint32 appends a big-endian 4-byte tag.
func (p AppParams) AppendUint32(tag uint8, v uint32) AppParams {
	p = append(p, tag, 4)
	return binary.BigEndian.AppendUint32(p, v)
}

// AppendBytes appends a tag with an arbitrary value of at most 255 bytes.
func (p AppParams) AppendBytes(tag uint8, v []byte) (AppParams, error) {
	if len(v) > 0xFF {
		return p, errors.ErrParameterOutOfRange
	}
	p = append(p, tag, uint8(len(v)))
	return append(p, v...), nil
}
