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

// Package limitio bounds how much is read from untrusted streams such as
// downloaded or decompressed repository indexes.
package limitio

import (
	"fmt"
	"io"
)

// ExceededError is returned once a reader has produced more than Limit bytes.
type ExceededError struct {
	What  string
	Limit int64
}

func (e *ExceededError) Error() string {
	if e.What == "" {
		return fmt.Sprintf("size limit of %d bytes exceeded", e.Limit)
	}
	return fmt.Sprintf("%s exceeds size limit of %d bytes", e.What, e.Limit)
}

// Limit resolves a configured limit: 0 selects def, a negative value
// disables the limit.
func Limit(configured, def int64) int64 {
	if configured == 0 {
		return def
	}
	return configured
}

type reader struct {
	r     io.Reader
	what  string
	limit int64
	n     int64
}

// NewReader returns a reader that fails with an *ExceededError when r holds
// more than limit bytes. A negative limit returns r unchanged.
func NewReader(r io.Reader, what string, limit int64) io.Reader {
	if limit < 0 {
		return r
	}
	// One byte past the limit is enough to tell exhaustion from overflow.
	return &reader{r: io.LimitReader(r, limit+1), what: what, limit: limit}
}

func (l *reader) Read(p []byte) (int, error) {
	if l.n > l.limit {
		return 0, &ExceededError{What: l.what, Limit: l.limit}
	}
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.limit {
		over := int(l.n - l.limit)
		return n - over, &ExceededError{What: l.what, Limit: l.limit}
	}
	return n, err
}

// ReadAll reads r to the end, failing once limit is exceeded.
func ReadAll(r io.Reader, what string, limit int64) ([]byte, error) {
	return io.ReadAll(NewReader(r, what, limit))
}
