package hotkey

import (
	"context"
	"time"
)

// Toggles turns presses of hk into toggle requests. A press arriving within
// debounce of the previous accepted one is dropped, which absorbs key bounce
// and auto-repeat. The channel closes when ctx is done.
func Toggles(ctx context.Context, hk Hotkey, debounce time.Duration) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		var last time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-hk.Keyup():
			case <-hk.Keydown():
				now := time.Now()
				if !last.IsZero() && now.Sub(last) < debounce {
					continue
				}
				last = now
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
