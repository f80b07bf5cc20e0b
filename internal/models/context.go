/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"context"
	"time"
)

type pollCycleKey struct{}

// PollCycleContext carries the scheduler cycle through context so the
// reconciler and journal can tag their work without widening interfaces.
type PollCycleContext struct {
	CycleId   string    // short id shared by every escrow reconciled in the cycle
	StartedAt time.Time // cycle start, used as the journal posting time
}

// WithPollCycleContext attaches cycle data to a context.
func WithPollCycleContext(ctx context.Context, pcc *PollCycleContext) context.Context {
	return context.WithValue(ctx, pollCycleKey{}, pcc)
}

// GetPollCycleContext retrieves cycle data from context, or nil if absent.
func GetPollCycleContext(ctx context.Context) *PollCycleContext {
	pcc, _ := ctx.Value(pollCycleKey{}).(*PollCycleContext)
	return pcc
}
