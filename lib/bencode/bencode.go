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

// Package bencode implements the bencode wire format used by .torrent files
// and tracker responses. Values are represented as an explicit variant type
// rather than via reflection so that decoded byte strings keep their raw
// bytes and re-encoding is canonical (dictionary keys in lexicographic byte
// order), which info-hash computation depends on.
package bencode

import "fmt"

// Kind enumerates the four bencode value types.
type Kind int

const (
	// KindInt is a 64-bit signed integer.
	KindInt Kind = iota

	// KindBytes is a byte string. No text encoding is assumed.
	KindBytes

	// KindList is an ordered list of values.
	KindList

	// KindDict is a dictionary with byte string keys.
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Value is a single bencode value of any kind.
type Value struct {
	kind Kind
	i    int64
	b    []byte
	l    []*Value
	d    *Dict
}

// Int creates an integer value.
func Int(i int64) *Value {
	return &Value{kind: KindInt, i: i}
}

// Bytes creates a byte string value.
func Bytes(b []byte) *Value {
	return &Value{kind: KindBytes, b: b}
}

// String creates a byte string value from a UTF-8 string.
func String(s string) *Value {
	return &Value{kind: KindBytes, b: []byte(s)}
}

// List creates a list value.
func List(vs ...*Value) *Value {
	return &Value{kind: KindList, l: vs}
}

// Kind returns the kind of v.
func (v *Value) Kind() Kind {
	return v.kind
}

// AsInt returns the integer v holds, if any.
func (v *Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsBytes returns the raw byte string v holds, if any.
func (v *Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.b, true
}

// AsString is a read-side helper which interprets a byte string as UTF-8.
func (v *Value) AsString() (string, bool) {
	b, ok := v.AsBytes()
	if !ok {
		return "", false
	}
	return string(b), true
}

// AsList returns the list v holds, if any.
func (v *Value) AsList() ([]*Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.l, true
}

// AsDict returns the dictionary v holds, if any.
func (v *Value) AsDict() (*Dict, bool) {
	if v.kind != KindDict {
		return nil, false
	}
	return v.d, true
}

// Dict is a bencode dictionary. Iteration order is insertion order for
// decoded dictionaries; encoding always emits keys in lexicographic byte
// order regardless of insertion order.
type Dict struct {
	keys []string
	m    map[string]*Value
}

// NewDict creates an empty dictionary.
func NewDict() *Dict {
	return &Dict{m: make(map[string]*Value)}
}

// DictValue wraps d in a Value.
func DictValue(d *Dict) *Value {
	return &Value{kind: KindDict, d: d}
}

// Set adds or replaces the value stored under key.
func (d *Dict) Set(key string, v *Value) {
	if _, ok := d.m[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.m[key] = v
}

// Get returns the value stored under key, if any.
func (d *Dict) Get(key string) (*Value, bool) {
	v, ok := d.m[key]
	return v, ok
}

// GetInt returns the integer stored under key, if any.
func (d *Dict) GetInt(key string) (int64, bool) {
	v, ok := d.m[key]
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// GetBytes returns the byte string stored under key, if any.
func (d *Dict) GetBytes(key string) ([]byte, bool) {
	v, ok := d.m[key]
	if !ok {
		return nil, false
	}
	return v.AsBytes()
}

// GetString returns the byte string under key interpreted as UTF-8, if any.
func (d *Dict) GetString(key string) (string, bool) {
	v, ok := d.m[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// GetList returns the list stored under key, if any.
func (d *Dict) GetList(key string) ([]*Value, bool) {
	v, ok := d.m[key]
	if !ok {
		return nil, false
	}
	return v.AsList()
}

// GetDict returns the dictionary stored under key, if any.
func (d *Dict) GetDict(key string) (*Dict, bool) {
	v, ok := d.m[key]
	if !ok {
		return nil, false
	}
	return v.AsDict()
}

// Keys returns keys in insertion order.
func (d *Dict) Keys() []string {
	return d.keys
}

// Len returns the number of entries in d.
func (d *Dict) Len() int {
	return len(d.keys)
}
