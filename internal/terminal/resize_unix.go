//go:build unix

package terminal

import (
	"os"
	"os/signal"
	"syscall"
)

// watchResize calls fn on every SIGWINCH until the returned stop func runs.
func watchResize(fn func()) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGWINCH)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				fn()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
