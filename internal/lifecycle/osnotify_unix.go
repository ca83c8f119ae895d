//go:build unix

package lifecycle

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// WatchOS пересылает сигналы процесса в Trigger:
// SIGUSR1 → Pause, SIGUSR2 и SIGCONT → Resume. Работает до отмены ctx.
func WatchOS(ctx context.Context, t *Trigger) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, unix.SIGUSR1, unix.SIGUSR2, unix.SIGCONT)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				if s, ok := fromOS(sig); ok {
					t.Notify(s)
				}
			}
		}
	}()
}

func fromOS(sig os.Signal) (Signal, bool) {
	switch sig {
	case unix.SIGUSR1:
		return Pause, true
	case unix.SIGUSR2, unix.SIGCONT:
		return Resume, true
	}
	return 0, false
}
