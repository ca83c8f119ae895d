package healthprobe

import (
	"context"
	"fmt"
	"time"
)

// StartScan запускает фоновый опрос /health. notify получает строку при
// смене доступности сервера или числа клиентов. Повторный вызов ничего не делает.
func (c *Client) StartScan(interval time.Duration, notify func(string)) error {
	if interval <= 0 {
		return fmt.Errorf("healthprobe: interval must be positive, got %v", interval)
	}
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stop, done := c.stopCh, c.doneCh
	c.mu.Unlock()

	// стартовый снимок без уведомлений
	c.scan(interval, nil)

	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				c.scan(interval, notify)
			case <-stop:
				return
			}
		}
	}()
	return nil
}

func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	close(c.stopCh)
	c.running = false
	done := c.doneCh
	c.mu.Unlock()
	<-done
}

func (c *Client) scan(timeout time.Duration, notify func(string)) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cur, err := c.Health(ctx)

	c.mu.Lock()
	prev, wasHealthy := c.last, c.healthy
	if err != nil {
		c.healthy = false
	} else {
		c.last = cur
		c.healthy = cur.Status == "healthy"
	}
	nowHealthy := c.healthy
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("health_probe_failed", "error", err)
		if wasHealthy && notify != nil {
			notify("server unreachable")
		}
		return
	}
	c.log.Debug("health_probe", "status", cur.Status, "tick", cur.Tick, "clients", cur.Clients)

	if notify == nil {
		return
	}
	if !wasHealthy && nowHealthy {
		notify(fmt.Sprintf("server healthy, tick %d", cur.Tick))
	}
	if prev != nil && prev.Clients != cur.Clients {
		notify(fmt.Sprintf("clients: %d → %d", prev.Clients, cur.Clients))
	}
}
