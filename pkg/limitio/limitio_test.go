// Copyright 2026 Chainguard, Inc.
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

package limitio

import (
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func TestReadAll(t *testing.T) {
	for _, tc := range []struct {
		name    string
		in      string
		limit   int64
		wantErr bool
	}{
		{name: "under", in: "hello", limit: 10},
		{name: "exact", in: "hello", limit: 5},
		{name: "over", in: "hello world", limit: 5, wantErr: true},
		{name: "unlimited", in: strings.Repeat("x", 1<<16), limit: -1},
		{name: "zero limit empty input", in: "", limit: 0},
		{name: "zero limit", in: "x", limit: 0, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ReadAll(strings.NewReader(tc.in), "index", tc.limit)
			if tc.wantErr {
				var exceeded *ExceededError
				require.ErrorAs(t, err, &exceeded)
				require.Equal(t, tc.limit, exceeded.Limit)
				require.ErrorContains(t, err, "index exceeds size limit")
				require.LessOrEqual(t, int64(len(got)), tc.limit)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.in, string(got))
		})
	}
}

func TestReaderSmallReads(t *testing.T) {
	got, err := ReadAll(iotest.OneByteReader(strings.NewReader("abcdef")), "", 3)
	require.ErrorContains(t, err, "size limit of 3 bytes exceeded")
	require.Equal(t, "abc", string(got))

	_, err = ReadAll(iotest.OneByteReader(strings.NewReader("abc")), "", 3)
	require.NoError(t, err)
}

func TestLimit(t *testing.T) {
	require.Equal(t, int64(100), Limit(0, 100))
	require.Equal(t, int64(5), Limit(5, 100))
	require.Equal(t, int64(-1), Limit(-1, 100))
}
