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
package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityQueuePopsInAscendingPriority(t *testing.T) {
	require := require.New(t)

	// Piece indexes weighted by swarm rarity.
	pq := NewPriorityQueue(
		&Item{Value: 4, Priority: 7},
		&Item{Value: 0, Priority: 2},
		&Item{Value: 9, Priority: 5},
	)

	// A later push with the lowest priority jumps the line.
	pq.Push(&Item{Value: 1, Priority: -1})

	var order []int
	for pq.Len() > 0 {
		item, err := pq.Pop()
		require.NoError(err)
		order = append(order, item.Value.(int))
	}
	require.Equal([]int{1, 0, 9, 4}, order)
}

func TestPriorityQueuePopEmpty(t *testing.T) {
	require := require.New(t)

	pq := NewPriorityQueue()
	_, err := pq.Pop()
	require.Error(err)

	pq.Push(&Item{Value: 3, Priority: 1})
	item, err := pq.Pop()
	require.NoError(err)
	require.Equal(3, item.Value.(int))

	_, err = pq.Pop()
	require.Error(err)
}
