package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func TestManualClock_StartsAtStart(t *testing.T) {
	c := NewManualClock(epoch)
	assert.Equal(t, epoch, c.Now())
	assert.Equal(t, epoch, c.Now(), "reading does not move on its own")
}

func TestManualClock_Advance(t *testing.T) {
	c := NewManualClock(epoch)
	got := c.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), got)
	assert.Equal(t, got, c.Now())
}

func TestManualClock_Reset(t *testing.T) {
	c := NewManualClock(epoch)
	c.Advance(time.Hour)
	c.Reset()
	assert.Equal(t, epoch, c.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	c := NewManualClock(epoch)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Advance(time.Second)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, epoch.Add(1000*time.Second), c.Now())
}
