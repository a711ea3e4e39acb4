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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// hangingSession never finishes Close before its context ends.
type hangingSession struct {
	*fakeSession
	closeCalls atomic.Int32
}

func (s *hangingSession) Close(ctx context.Context) error {
	s.closeCalls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

// lateStack answers Open only after delay, ignoring the context.
type lateStack struct {
	delay time.Duration
	sess  *hangingSession
}

func (s *lateStack) GetEndpoints(context.Context, string) ([]Endpoint, error) {
	return nil, nil
}

func (s *lateStack) Open(context.Context, Endpoint, OpenOptions) (Session, error) {
	time.Sleep(s.delay)
	return s.sess, nil
}

func TestFactoryLateSessionClosedWithinBound(t *testing.T) {
	stack := &lateStack{
		delay: 40 * time.Millisecond,
		sess:  &hangingSession{fakeSession: &fakeSession{id: "late"}},
	}
	f := &factory{stack: stack, timeout: 20 * time.Millisecond}

	start := time.Now()
	sess, err := f.open(context.Background(), Endpoint{}, nil)

	assert.Nil(t, sess)
	assert.ErrorIs(t, err, ErrSessionCreationFailed)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), stack.sess.closeCalls.Load())
}
