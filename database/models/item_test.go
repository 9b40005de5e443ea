// Copyright 2026 Blink Labs Software
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

package models

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountEncoding(t *testing.T) {
	big300, ok := new(big.Int).SetString("300000000000000000000", 10)
	require.True(t, ok)
	v, err := ParseAmount(FormatAmount(big300))
	require.NoError(t, err)
	assert.Equal(t, big300, v)

	v, err = ParseAmount(FormatAmount(nil))
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ParseAmount("12ab")
	require.ErrorIs(t, err, ErrInvalidAmount)
}
