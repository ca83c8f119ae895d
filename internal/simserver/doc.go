// Package simserver — эталонный сервер симуляции для локальной разработки и
// тестов клиента. Каждый тик рассылает {"type":"tick",...} с позицией юнита,
// которая меняется раз в MoveEvery тиков, на подключение отвечает welcome,
// на любое JSON-сообщение echo. Step позволяет двигать тики вручную.
package simserver
