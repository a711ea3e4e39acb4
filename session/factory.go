// Copyright 2025 Edgeo SCADA
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

package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// factory opens sessions with a bounded timeout and no retry.
type factory struct {
	stack     Stack
	timeout   time.Duration
	keepAlive time.Duration
	name      string
}

func (f *factory) open(ctx context.Context, ep Endpoint, onKeepAlive func(KeepAlive)) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	sess, err := f.stack.Open(ctx, ep, OpenOptions{
		Timeout:           f.timeout,
		KeepAliveInterval: f.keepAlive,
		OnKeepAlive:       onKeepAlive,
		SessionName:       f.name,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: stack returned no session", ErrSessionCreationFailed)
	}
	if err := ctx.Err(); err != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), f.timeout)
		_ = sess.Close(closeCtx)
		closeCancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrSessionCreationFailed, f.timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}
	return sess, nil
}
