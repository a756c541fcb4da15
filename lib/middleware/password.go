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
package middleware

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// _bcryptCost trades hash time against brute-force resistance. Do not
// lower without rehashing stored credentials.
const _bcryptCost = 12

// HashCredential hashes a plaintext credential for storage.
func HashCredential(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), _bcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %s", err)
	}
	return string(b), nil
}

// CheckCredential returns whether plain matches a stored hash.
func CheckCredential(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
