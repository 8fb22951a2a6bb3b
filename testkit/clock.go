package testkit

import (
	"sync"
	"time"
)

// Clock 可手动推进的时钟，Now 可作为 WithClock 选项的参数
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock 创建停在 start 的时钟
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now 当前时间
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推进时间
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
