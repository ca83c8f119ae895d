// Package gameclient реализует WebSocket-клиент игрового сервера с тиками.
// Клиент подключается к ws://host:port/ws, читает JSON-сообщения
// (tick, welcome, echo) и отправляет тестовые сообщения.
//
// Состояния: Disconnected → Connecting → Connected → Disconnecting → Disconnected.
// Повторный Connect во время Connecting/Connected и повторный Disconnect
// ничего не делают (только запись в лог).
//
// Потоки:
//   - readLoop — одна горутина на соединение; всё, что она узнаёт, уходит
//     замыканиями в dispatch.Queue.
//   - Подписчики (OnConnected, OnDisconnected, OnMessageReceived) и статус
//     (IsConnected, CurrentTick, ConnectedClients) живут на горутине
//     потребителя, которая вызывает Queue.Drain.
//   - Запись сериализована (мьютекс + write-deadline), есть ping/pong
//     keep-alive. Автоматического реконнекта нет.
//
// Пример:
//
//	q := dispatch.New(logger)
//	c := gameclient.New(gameclient.DefaultConfig(), gameclient.WithQueue(q))
//	c.OnMessageReceived(func(m *protocol.ServerMessage) {
//	    fmt.Println(m.Type, m.Tick)
//	})
//	c.Connect()
//	defer c.Disconnect()
//	q.Run(ctx, 16*time.Millisecond, nil)
package gameclient
