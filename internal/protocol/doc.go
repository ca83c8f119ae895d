// Package protocol описывает JSON-протокол симуляционного сервера:
// входящие ServerMessage (tick, welcome, echo и любые будущие типы) и
// исходящее тестовое сообщение. Кодек чистый: без состояния и без I/O.
//
// Один кадр websocket = один JSON-документ.
//
//	msg, err := protocol.Decode(frame)
//	if err != nil { ... } // *protocol.DecodeError: кадр отбрасываем
//	if !msg.Recognized() { ... } // неизвестный type не ошибка
package protocol
