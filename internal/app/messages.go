package app

import (
	"fmt"

	"github.com/EgorLis/tickclient/internal/protocol"
)

// logMessage — журнал входящих сообщений, по строке на тип.
func (a *App) logMessage(msg *protocol.ServerMessage) {
	switch msg.Type {
	case protocol.TypeTick:
		a.log.Info("game_tick_received", "tick", msg.Tick, "clients", msg.ClientsCount, "location", describeLocation(msg))
	case protocol.TypeWelcome:
		a.log.Info("welcome_message", "message", msg.Message)
	case protocol.TypeEcho:
		a.logEcho(msg)
	default:
		a.log.Info("unknown_message_type", "type", string(msg.Type))
	}
}

// logEcho раскладывает original по полям; type и message выносим отдельно,
// остальное пишем как есть
func (a *App) logEcho(msg *protocol.ServerMessage) {
	orig, err := msg.OriginalStruct()
	if err != nil {
		a.log.Warn("server_echo_unparsed", "tick", msg.Tick, "original", string(msg.Original), "error", err)
		return
	}
	if orig == nil {
		a.log.Info("server_echo", "tick", msg.Tick)
		return
	}
	fields := orig.GetFields()
	a.log.Info("server_echo",
		"tick", msg.Tick,
		"original_type", fields["type"].GetStringValue(),
		"original_message", fields["message"].GetStringValue(),
		"original_fields", len(fields),
	)
}

func describeLocation(msg *protocol.ServerMessage) string {
	if msg.UnitLocation == nil {
		return ""
	}
	s := fmt.Sprintf("(%.2f, %.2f)", msg.UnitLocation.X, msg.UnitLocation.Y)
	if msg.PositionUpdated {
		s += " [UPDATED]"
	}
	return s
}
