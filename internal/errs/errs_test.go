// Copyright 2026 The Loomcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRecognisesThrottling(t *testing.T) {
	e := Classify(errors.New("API error (status 429): rate limit exceeded"))
	assert.Equal(t, KindRateLimited, e.Kind)
	assert.True(t, e.Kind.Retryable())
}

func TestClassifyRecognisesTransient(t *testing.T) {
	e := Classify(errors.New("connection reset by peer"))
	assert.Equal(t, KindTransientIO, e.Kind)
	assert.True(t, e.Kind.Retryable())
}

func TestClassifyRecognisesCancellation(t *testing.T) {
	e := Classify(errors.New("context canceled"))
	assert.Equal(t, KindCancelled, e.Kind)
	assert.False(t, e.Kind.Retryable())
}

func TestClassifyPassesThroughTypedError(t *testing.T) {
	original := PermissionDenied("user denied")
	e := Classify(original)
	assert.Same(t, original, e)
}

func TestClassifyDefaultsToFatalNotRetryable(t *testing.T) {
	e := Classify(errors.New("something truly unexpected"))
	assert.Equal(t, KindFatal, e.Kind)
	assert.False(t, e.Kind.Retryable())
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	wrapped := New(KindValidation, "bad input", cause)
	assert.ErrorIs(t, wrapped, cause)
}
