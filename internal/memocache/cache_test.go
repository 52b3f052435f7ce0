package memocache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoComputesOnceWithinTTL(t *testing.T) {
	c := New[int]("test", 10, time.Minute)

	var calls int32
	compute := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	}

	v, err := c.Do(Key("user-a", "lookup", "tt1"), compute)
	require.NoError(t, err)
	require.Equal(t, 42, v)

	v, err = c.Do(Key("user-a", "lookup", "tt1"), compute)
	require.NoError(t, err)
	require.Equal(t, 42, v)

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScopeIsolatesUsers(t *testing.T) {
	c := New[string]("test", 10, time.Minute)

	v, err := c.Do(Key("user-a", "library"), func() (string, error) { return "a", nil })
	require.NoError(t, err)
	require.Equal(t, "a", v)

	v, err = c.Do(Key("user-b", "library"), func() (string, error) { return "b", nil })
	require.NoError(t, err)
	require.Equal(t, "b", v)
}

func TestErrorsAreNotCached(t *testing.T) {
	c := New[int]("test", 10, time.Minute)

	var calls int32
	_, err := c.Do(Key("s", "k"), func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("boom")
	})
	require.Error(t, err)

	v, err := c.Do(Key("s", "k"), func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, v)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEntriesExpire(t *testing.T) {
	c := New[int]("test", 10, 20*time.Millisecond)

	var calls int32
	compute := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	}

	if _, err := c.Do(Key("s", "k"), compute); err != nil {
		t.Fatalf("first call: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := c.Do(Key("s", "k"), compute); err != nil {
		t.Fatalf("second call: %v", err)
	}

	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestConcurrentCallsShareOneCompute(t *testing.T) {
	c := New[int]("test", 10, time.Minute)

	var calls int32
	start := make(chan struct{})
	compute := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return 9, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := c.Do(Key("s", "k"), compute)
			if err != nil || v != 9 {
				t.Errorf("Do() = %d, %v", v, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
