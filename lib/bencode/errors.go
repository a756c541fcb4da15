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

import "fmt"

// MalformedError is returned when input does not parse as bencode.
type MalformedError struct {
	Offset int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed bencode at offset %d: %s", e.Offset, e.Reason)
}

// OverflowError is returned when an integer exceeds 64 bits.
type OverflowError struct {
	Offset int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("bencode integer at offset %d overflows int64", e.Offset)
}

// DepthExceededError is returned when input nests deeper than the decoder
// allows.
type DepthExceededError struct {
	MaxDepth int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("bencode nesting exceeds %d levels", e.MaxDepth)
}
