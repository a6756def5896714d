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

package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponentLoggerPrefixesMessages(t *testing.T) {
	l := New("httpclient")
	assert.Equal(t, "httpclient: get failed", l.format("get failed"))
}

func TestNilComponentLoggerLeavesFormatUnchanged(t *testing.T) {
	var l *Logger
	assert.Equal(t, "unchanged", l.format("unchanged"))
}

func TestUnnamedComponentLoggerLeavesFormatUnchanged(t *testing.T) {
	l := New("")
	assert.Equal(t, "unchanged", l.format("unchanged"))
}

func TestNewStdLoggerCarriesPrefixAndDoesNotPanic(t *testing.T) {
	std := NewStdLogger("fuse: ", LevelError)
	assert.Equal(t, "fuse: ", std.Prefix())

	assert.NotPanics(t, func() {
		std.Print("kernel connection closed")
	})
}

func TestNewStdLoggerDebugVariant(t *testing.T) {
	std := NewStdLogger("fuse_debug: ", LevelTrace)
	assert.Equal(t, "fuse_debug: ", std.Prefix())
}

func TestSetLogFormatAndLevelDoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		SetLogFormat("text")
		SetLogLevel(LevelNameDebug)
		Infof("hello %s", "world")
		SetLogFormat("json")
		SetLogLevel(LevelNameInfo)
	})
}
