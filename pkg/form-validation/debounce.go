package validation

import (
	"sync"
	"time"
)

// Debounce returns a function that calls f with its latest argument once no
// call has happened for wait. Every call restarts the timer.
func Debounce[T any](f func(T), wait time.Duration) func(T) {
	var (
		mutex sync.Mutex
		timer *time.Timer
	)
	return func(arg T) {
		mutex.Lock()
		defer mutex.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(wait, func() { f(arg) })
	}
}
