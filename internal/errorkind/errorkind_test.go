// Copyright 2025 Google LLC
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

package errorkind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want bool
	}{
		{"http-503", HTTPStatusErr("get", 503, errors.New("unavailable")), true},
		{"http-404", HTTPStatusErr("get", 404, errors.New("not found")), false},
		{"transport-reset", Transport("get", TransportConnectionReset, errors.New("reset")), true},
		{"transport-unknown", Transport("get", TransportUnknown, errors.New("?")), false},
		{"protocol", Protocol("get", errors.New("bad magic")), false},
		{"consistency", Consistency("get", errors.New("stale")), false},
		{"posix", Posix("get", ENOENT, errors.New("gone")), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Retryable())
		})
	}
}

func TestErrorUnwrapAndAs(t *testing.T) {
	inner := errors.New("boom")
	wrapped := Protocol("read", inner)

	assert.ErrorIs(t, wrapped, inner)

	extracted, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindProtocol, extracted.Kind)
	assert.Equal(t, EIO, extracted.Errno)
}

func TestErrorAsMissesPlainError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorString(t *testing.T) {
	withOp := Posix("lookup", ENOENT, errors.New("no such file"))
	assert.Contains(t, withOp.Error(), "lookup")
	assert.Contains(t, withOp.Error(), "posix")

	noOp := &Error{Kind: KindTransport, Err: errors.New("reset")}
	assert.NotContains(t, noOp.Error(), ": : ")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "posix", KindPosix.String())
	assert.Equal(t, "http-status", KindHTTPStatus.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
