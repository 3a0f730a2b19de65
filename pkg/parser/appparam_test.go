// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"bytes"
	"testing"

	"github.com/absmach/mobex/pkg/builder"
	"github.com/absmach/mobex/pkg/obex"
)

type tag struct {
	id    uint8
	value []byte
}

type tagRecorder struct {
	tags []tag
}

func (r *tagRecorder) Tag(id uint8, total, offset int, chunk []byte) {
	if offset == 0 {
		r.tags = append(r.tags, tag{id: id, value: []byte{}})
	}
	last := &r.tags[len(r.tags)-1]
	last.value = append(last.value, chunk...)
}

func TestAppParamParser(t *testing.T) {
	params := builder.AppParams{}.
		AppendUint8(0x10, 1).
		AppendUint16(0x11, 0x0203).
		AppendUint32(0x12, 0x04050607)
	params, err := params.AppendBytes(0x13, nil)
	if err != nil {
		t.Fatalf("AppendBytes() error = %v", err)
	}

	want := []tag{
		{0x10, []byte{1}},
		{0x11, []byte{2, 3}},
		{0x12, []byte{4, 5, 6, 7}},
		{0x13, []byte{}},
	}

	whole := &tagRecorder{}
	if state := NewAppParamParser(whole, len(params)).Process(params); state != Complete {
		t.Fatalf("Process(whole) = %v, want complete", state)
	}

	bytewise := &tagRecorder{}
	p := NewAppParamParser(bytewise, len(params))
	var state ObjectState
	for _, b := range params {
		state = p.Process([]byte{b})
	}
	if state != Complete {
		t.Fatalf("Process(bytewise) = %v, want complete", state)
	}

	for _, got := range [][]tag{whole.tags, bytewise.tags} {
		if len(got) != len(want) {
			t.Fatalf("got %d tags, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].id != want[i].id || !bytes.Equal(got[i].value, want[i].value) {
				t.Errorf("tag %d = %+v, want %+v", i, got[i], want[i])
			}
		}
	}
}

func TestAppParamParserErrors(t *testing.T) {
	tests := []struct {
		name  string
		total int
		data  []byte
		want  ObjectState
	}{
		{"tag exceeds budget", 4, []byte{0x01, 0x03, 0xAA, 0xBB}, Invalid},
		{"budget ends mid tag", 3, []byte{0x01}, Incomplete},
		{"bytes beyond budget", 3, []byte{0x01, 0x01, 0xAA, 0x02}, Overrun},
		{"empty parameters", 0, nil, Complete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewAppParamParser(nil, tt.total)
			if state := p.Process(tt.data); state != tt.want {
				t.Errorf("Process() = %v, want %v", state, tt.want)
			}
		})
	}

	// Budget of 2 only covers id and length of a 1-byte tag.
	p := NewAppParamParser(nil, 2)
	if state := p.Process([]byte{0x01, 0x01}); state != Invalid {
		t.Errorf("Process() = %v, want invalid", state)
	}

	p = NewAppParamParser(nil, 1)
	if state := p.Process([]byte{0x01}); state != Invalid {
		t.Errorf("Process() with budget ending after tag id = %v, want invalid", state)
	}

	p = NewAppParamParser(nil, 3)
	p.Process([]byte{0x01, 0x01, 0xAA})
	if state := p.Process([]byte{0x00}); state != Overrun {
		t.Errorf("Process() after complete = %v, want overrun", state)
	}
}

func TestAppParamsInsideObject(t *testing.T) {
	buf := make([]byte, 64)
	if err := builder.RequestCreateGet(buf, 1); err != nil {
		t.Fatalf("RequestCreateGet() error = %v", err)
	}
	params := builder.AppParams{}.AppendUint16(0x01, 42)
	if err := builder.AddApplicationParameters(buf, params); err != nil {
		t.Fatalf("AddApplicationParameters() error = %v", err)
	}

	var maxCount [2]byte
	tagState := HeaderIncomplete
	app := &AppParamParser{}
	tags := TagCallbackFunc(func(id uint8, total, off int, chunk []byte) {
		if id == 0x01 {
			tagState = TagStore(maxCount[:], total, off, chunk)
		}
	})
	p := NewRequestParser(CallbackFunc(func(id obex.HeaderID, total, off int, chunk []byte) {
		if id != obex.HeaderApplicationParameters {
			return
		}
		if off == 0 {
			app.Init(tags, total)
		}
		app.Process(chunk)
	}))

	for _, b := range builder.Message(buf) {
		p.Process([]byte{b})
	}
	if p.State() != StateComplete {
		t.Fatalf("state = %v, want complete", p.State())
	}
	if tagState != HeaderComplete || maxCount != [2]byte{0, 42} {
		t.Errorf("max count = % x (%v)", maxCount, tagState)
	}
}
