package protocol

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type MessageType string

const (
	TypeTick    MessageType = "tick"
	TypeWelcome MessageType = "welcome"
	TypeEcho    MessageType = "echo"

	// единственный исходящий тип
	TypeTest MessageType = "test"
)

// Known сообщает, знает ли клиент этот входящий тип.
func (t MessageType) Known() bool {
	switch t {
	case TypeTick, TypeWelcome, TypeEcho:
		return true
	}
	return false
}

type UnitLocation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ServerMessage — один входящий кадр. Для неизвестного Type заполнено
// только поле Type (исходная строка сохраняется).
type ServerMessage struct {
	Type            MessageType     `json:"type"`
	Message         string          `json:"message,omitempty"`
	Tick            int64           `json:"tick"`
	Timestamp       float64         `json:"timestamp"`
	ClientsCount    int             `json:"clients_count"`
	UnitLocation    *UnitLocation   `json:"unit_location,omitempty"`
	PositionUpdated bool            `json:"position_updated"`
	Original        json.RawMessage `json:"original,omitempty"`
}

func (m *ServerMessage) Recognized() bool {
	return m != nil && m.Type.Known()
}

// OriginalStruct — то, что сервер вернул в echo (наше исходное сообщение),
// в виде protobuf Struct. Для не-echo или пустого original возвращает nil, nil.
func (m *ServerMessage) OriginalStruct() (*structpb.Struct, error) {
	if m == nil || len(m.Original) == 0 || string(m.Original) == "null" {
		return nil, nil
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(m.Original, s); err != nil {
		return nil, fmt.Errorf("protocol: echo original: %w", err)
	}
	return s, nil
}

func (m *ServerMessage) String() string {
	if m == nil {
		return "<nil>"
	}
	if m.UnitLocation != nil {
		return fmt.Sprintf("%s tick=%d clients=%d unit=(%.2f, %.2f) updated=%t",
			m.Type, m.Tick, m.ClientsCount, m.UnitLocation.X, m.UnitLocation.Y, m.PositionUpdated)
	}
	return fmt.Sprintf("%s tick=%d clients=%d", m.Type, m.Tick, m.ClientsCount)
}

// TestMessage — исходящее тестовое сообщение, сервер отвечает на него echo.
type TestMessage struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Timestamp float64     `json:"timestamp"`
}

func NewTestMessage(text string, ts float64) TestMessage {
	return TestMessage{Type: TypeTest, Message: text, Timestamp: ts}
}
