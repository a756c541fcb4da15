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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashCredentialRoundTrip(t *testing.T) {
	require := require.New(t)

	hash, err := HashCredential("hunter2hunter2")
	require.NoError(err)
	require.NotEqual("hunter2hunter2", hash)

	require.True(CheckCredential(hash, "hunter2hunter2"))
	require.False(CheckCredential(hash, "wrong"))
}
