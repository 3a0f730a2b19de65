// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

// TagCallback receives application parameter values chunk by chunk.
// chunk must not be retained after Tag returns.
type TagCallback interface {
	Tag(id uint8, totalLen, offset int, chunk []byte)
}

// TagCallbackFunc adapts a plain function to the TagCallback interface.
type TagCallbackFunc func(id uint8, totalLen, offset int, chunk []byte)

// Tag calls f.
func (f TagCallbackFunc) Tag(id uint8, totalLen, offset int, chunk []byte) {
	f(id, totalLen, offset, chunk)
}

type appParamState int

const (
	waitTagID appParamState = iota
	waitTagLen
	waitTagValue
	tagsComplete
	tagsInvalid
	tagsOverrun
)

// AppParamParser decodes the tag/length/value sequence carried in an
// Application Parameters header.
type AppParamParser struct {
	state    appParamState
	callback TagCallback
	total    int
	pos      int
	tagID    uint8
	tagLen   int
	tagPos   int
}

// NewAppParamParser returns a parser for totalLen bytes of parameters.
func NewAppParamParser(cb TagCallback, totalLen int) *AppParamParser {
	p := &AppParamParser{}
	p.Init(cb, totalLen)
	return p
}

// Init resets the parser for a new Application Parameters value.
func (p *AppParamParser) Init(cb TagCallback, totalLen int) {
	*p = AppParamParser{
		callback: cb,
		total:    totalLen,
	}
	if totalLen <= 0 {
		p.state = tagsComplete
	}
}

// Process consumes data and reports the parameter stream state.
func (p *AppParamParser) Process(data []byte) ObjectState {
	for len(data) > 0 {
		switch p.state {
		case tagsInvalid:
			return Invalid
		case tagsComplete, tagsOverrun:
			p.state = tagsOverrun
			return Overrun
		}

		n := 1
		switch p.state {
		case waitTagID:
			p.tagID = data[0]
			p.state = waitTagLen
		case waitTagLen:
			p.tagLen = int(data[0])
			p.tagPos = 0
			// +1 accounts for the length byte being consumed now.
			if p.pos+1+p.tagLen > p.total {
				p.state = tagsInvalid
				return Invalid
			}
			if p.tagLen == 0 {
				p.emit(nil)
				p.state = waitTagID
			} else {
				p.state = waitTagValue
			}
		case waitTagValue:
			n = min(p.tagLen-p.tagPos, len(data))
			p.emit(data[:n])
			p.tagPos += n
			if p.tagPos == p.tagLen {
				p.state = waitTagID
			}
		}

		data = data[n:]
		p.pos += n

		if p.pos == p.total {
			if p.state == waitTagID {
				p.state = tagsComplete
			} else {
				p.state = tagsInvalid
			}
		}
	}

	return p.objectState()
}

func (p *AppParamParser) emit(chunk []byte) {
	if p.callback != nil {
		p.callback.Tag(p.tagID, p.tagLen, p.tagPos, chunk)
	}
}

func (p *AppParamParser) objectState() ObjectState {
	switch p.state {
	case tagsComplete:
		return Complete
	case tagsInvalid:
		return Invalid
	case tagsOverrun:
		return Overrun
	default:
		return Incomplete
	}
}
