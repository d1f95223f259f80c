/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package retry retries transient upstream failures with exponential backoff
and jitter, and polls until a condition holds.

# Usage

	out, err := retry.Do(ctx, retry.DefaultConfig(), "complete",
		gateway.IsRetryable,
		func(ctx context.Context) (string, error) {
			return client.Complete(ctx, prompt)
		})

Poll checks a condition at a fixed interval up to a number of attempts and
returns ErrPollExhausted when it never held.
*/
package retry
