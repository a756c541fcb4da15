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
	"bytes"
	"sort"
	"strconv"
)

// Encode serializes v canonically. Dictionary keys are always emitted in
// lexicographic byte order, so two logically equal dictionaries encode to
// identical bytes. Info-hash stability depends on this.
func Encode(v *Value) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v)
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v *Value) {
	switch v.kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.i, 10))
		buf.WriteByte('e')
	case KindBytes:
		buf.WriteString(strconv.Itoa(len(v.b)))
		buf.WriteByte(':')
		buf.Write(v.b)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.l {
			encodeValue(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		keys := append([]string(nil), v.d.keys...)
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteString(strconv.Itoa(len(k)))
			buf.WriteByte(':')
			buf.WriteString(k)
			encodeValue(buf, v.d.m[k])
		}
		buf.WriteByte('e')
	}
}
