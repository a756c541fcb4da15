// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package bencode

import (
	"strconv"
)

// MaxDepth bounds list / dictionary nesting so hostile input cannot blow the
// stack.
const MaxDepth = 256

// Decode parses b as a single bencode value. Trailing bytes are an error.
func Decode(b []byte) (*Value, error) {
	d := &decoder{buf: b}
	v, err := d.value(0)
	if err != nil {
		return nil, err
	}
	if d.pos != len(b) {
		return nil, &MalformedError{d.pos, "trailing bytes"}
	}
	return v, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) malformed(reason string) error {
	return &MalformedError{d.pos, reason}
}

func (d *decoder) peek() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, d.malformed("unexpected end of input")
	}
	return d.buf[d.pos], nil
}

func (d *decoder) value(depth int) (*Value, error) {
	if depth > MaxDepth {
		return nil, &DepthExceededError{MaxDepth}
	}
	c, err := d.peek()
	if err != nil {
		return nil, err
	}
	switch {
	case c == 'i':
		return d.integer()
	case c >= '0' && c <= '9':
		b, err := d.byteString()
		if err != nil {
			return nil, err
		}
		return Bytes(b), nil
	case c == 'l':
		return d.list(depth)
	case c == 'd':
		return d.dict(depth)
	default:
		return nil, d.malformed("unexpected byte " + strconv.QuoteRune(rune(c)))
	}
}

func (d *decoder) integer() (*Value, error) {
	start := d.pos
	d.pos++ // 'i'
	end := d.pos
	for end < len(d.buf) && d.buf[end] != 'e' {
		end++
	}
	if end == len(d.buf) {
		return nil, d.malformed("unterminated integer")
	}
	s := string(d.buf[d.pos:end])
	if len(s) == 0 {
		return nil, d.malformed("empty integer")
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return nil, &OverflowError{start}
		}
		return nil, &MalformedError{start, "invalid integer " + strconv.Quote(s)}
	}
	d.pos = end + 1
	return Int(i), nil
}

func (d *decoder) byteString() ([]byte, error) {
	colon := d.pos
	for colon < len(d.buf) && d.buf[colon] != ':' {
		colon++
	}
	if colon == len(d.buf) {
		return nil, d.malformed("unterminated string length")
	}
	n, err := strconv.ParseInt(string(d.buf[d.pos:colon]), 10, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return nil, &OverflowError{d.pos}
		}
		return nil, d.malformed("invalid string length")
	}
	if n < 0 {
		return nil, d.malformed("negative string length")
	}
	start := colon + 1
	if int64(len(d.buf)-start) < n {
		return nil, d.malformed("string length exceeds input")
	}
	d.pos = start + int(n)
	return d.buf[start:d.pos], nil
}

func (d *decoder) list(depth int) (*Value, error) {
	d.pos++ // 'l'
	var items []*Value
	for {
		c, err := d.peek()
		if err != nil {
			return nil, err
		}
		if c == 'e' {
			d.pos++
			return List(items...), nil
		}
		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
}

func (d *decoder) dict(depth int) (*Value, error) {
	d.pos++ // 'd'
	dict := NewDict()
	for {
		c, err := d.peek()
		if err != nil {
			return nil, err
		}
		if c == 'e' {
			d.pos++
			return DictValue(dict), nil
		}
		if c < '0' || c > '9' {
			return nil, d.malformed("dictionary key must be a byte string")
		}
		key, err := d.byteString()
		if err != nil {
			return nil, err
		}
		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		dict.Set(string(key), v)
	}
}
