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

package llm

import (
	"context"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/teradata-labs/loomcore/internal/config"
	"github.com/teradata-labs/loomcore/internal/errs"
	"github.com/teradata-labs/loomcore/internal/message"
)

// ChatWithRetry wraps client.Chat with exponential backoff, retrying
// only the error kinds errs.Kind.Retryable reports as eligible
// (transient I/O, rate limiting). Every other error is classified and
// returned immediately without consuming a retry attempt.
func ChatWithRetry(ctx context.Context, client Client, req Request, cfg config.RetryConfig, logger *zap.Logger) (*message.Message, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseBackoff

	attempt := 0
	op := func() (*message.Message, error) {
		attempt++
		msg, err := client.Chat(ctx, req)
		if err == nil {
			return msg, nil
		}
		classified := errs.Classify(err)
		if !classified.Kind.Retryable() {
			return nil, backoff.Permanent(classified)
		}
		logger.Warn("llm chat attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.String("kind", string(classified.Kind)),
			zap.Error(classified),
		)
		return nil, classified
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxTries(cfg.MaxAttempts))),
	)
}

func maxTries(maxAttempts int) int {
	if maxAttempts <= 0 {
		return 1
	}
	return maxAttempts
}
