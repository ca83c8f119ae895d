//go:build !unix

package lifecycle

import "context"

// WatchOS: на этой платформе сигналов паузы нет, сигналы шлёт приложение.
func WatchOS(ctx context.Context, t *Trigger) {}
