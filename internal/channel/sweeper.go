// ABOUTME: Periodic expiry loop for the dedup cache
// ABOUTME: halt blocks until the loop goroutine has exited, so no pass runs afterwards

package channel

import "time"

type sweeper struct {
	stop chan struct{}
	done chan struct{}
}

func startSweeper(period time.Duration, pass func(window time.Duration)) *sweeper {
	s := &sweeper{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pass(period)
			case <-s.stop:
				return
			}
		}
	}()
	return s
}

func (s *sweeper) halt() {
	close(s.stop)
	<-s.done
}
