package gameclient

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("gameclient: not connected")
	ErrRateLimited  = errors.New("gameclient: send rate limit exceeded")
)

// ConnectError — не удалось открыть соединение или пройти рукопожатие.
// Если попытку отменили, Unwrap даёт context.Canceled.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("gameclient: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError — ошибка ввода-вывода на уже открытом соединении.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gameclient: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
