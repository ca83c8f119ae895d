// Package lifecycle переводит события хоста (пауза, возобновление, потеря и
// возврат фокуса) в подключение и отключение клиента. Pause/FocusLost
// отключают, Resume/FocusGained подключают, если включён autoConnect.
package lifecycle
