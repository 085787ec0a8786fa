package fpga

import "fmt"

// Clock is the single global clock. Each Step ticks every registered ticker
// once, in registration order.
type Clock struct {
	tickers []Ticker
	cycle   uint64
}

// NewClock creates a clock driving the given tickers
func NewClock(tickers ...Ticker) *Clock {
	return &Clock{tickers: tickers}
}

// Attach registers another ticker
func (c *Clock) Attach(t Ticker) {
	c.tickers = append(c.tickers, t)
}

// Step advances one tick
func (c *Clock) Step() {
	for _, t := range c.tickers {
		t.Tick()
	}
	c.cycle++
}

// Cycle returns the number of ticks taken so far
func (c *Clock) Cycle() uint64 {
	return c.cycle
}

// RunUntil steps until cond holds, at most limit times. It returns the number
// of ticks taken.
func (c *Clock) RunUntil(cond func() bool, limit int) (int, error) {
	for n := 0; n < limit; n++ {
		if cond() {
			return n, nil
		}
		c.Step()
	}
	if cond() {
		return limit, nil
	}
	return limit, fmt.Errorf("%w: %d", ErrTickLimit, limit)
}

// Drive ticks a single unit until it has a result pending.
func Drive(u interface {
	Ticker
	Done() bool
}, limit int) (int, error) {
	return NewClock(u).RunUntil(u.Done, limit)
}
