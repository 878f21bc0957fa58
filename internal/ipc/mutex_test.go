// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package ipc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMutexExcludesConcurrentAccess(t *testing.T) {
	var mu Mutex
	mu.Init()

	counter := 0
	const goroutines = 8
	const incrementsEach = 200

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < incrementsEach; j++ {
				require.NoError(t, mu.Lock())
				counter++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, goroutines*incrementsEach, counter)
}

func TestMutexLockBlocksUntilUnlock(t *testing.T) {
	var mu Mutex
	mu.Init()
	require.NoError(t, mu.Lock())

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, mu.Lock())
		close(acquired)
		mu.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second locker acquired the mutex before it was released")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second locker never acquired the mutex after release")
	}
}

func TestCondSignalWakesWaiter(t *testing.T) {
	var mu Mutex
	mu.Init()
	var cond Cond
	cond.Init()

	ready := make(chan struct{})
	woken := make(chan error, 1)
	go func() {
		require.NoError(t, mu.Lock())
		close(ready)
		err := cond.Wait(&mu, time.Now().Add(time.Second))
		mu.Unlock()
		woken <- err
	}()

	<-ready
	time.Sleep(20 * time.Millisecond) // give the waiter time to park inside futexWaitOn
	cond.Signal()

	select {
	case err := <-woken:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken by Signal")
	}
}

func TestCondWaitTimesOut(t *testing.T) {
	var mu Mutex
	mu.Init()
	var cond Cond
	cond.Init()

	require.NoError(t, mu.Lock())
	err := cond.Wait(&mu, time.Now().Add(10*time.Millisecond))
	mu.Unlock()

	require.Error(t, err)
	require.True(t, IsTimeout(err))
}
