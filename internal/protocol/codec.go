package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// DecodeError — кадр не является корректным ServerMessage.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: decode: %s: %v", e.Reason, e.Err)
	}
	return "protocol: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errNotUTF8 = errors.New("frame is not valid UTF-8")

type wireLocation struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type wireMessage struct {
	Message         string          `json:"message"`
	Tick            json.Number     `json:"tick"`
	Timestamp       float64         `json:"timestamp"`
	ClientsCount    json.Number     `json:"clients_count"`
	UnitLocation    *wireLocation   `json:"unit_location"`
	PositionUpdated bool            `json:"position_updated"`
	Original        json.RawMessage `json:"original"`
}

// Encode сериализует исходящее сообщение в один текстовый кадр.
// Порядок полей структуры и json.RawMessage сохраняется, HTML-экранирование
// выключено. Ключи map[string]any encoding/json сортирует: если порядок
// важен, передавайте структуру или json.RawMessage.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode разбирает текстовый кадр. Неизвестный type не считается ошибкой:
// возвращается сообщение только с Type (совместимость вперёд).
func Decode(data []byte) (*ServerMessage, error) {
	if !utf8.Valid(data) {
		return nil, &DecodeError{Reason: "invalid text", Err: errNotUTF8}
	}

	// сначала только дискриминатор, остальные поля неизвестного типа
	// могут иметь любую форму
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Reason: "malformed frame", Err: err}
	}
	if head.Type == nil || *head.Type == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}

	t := MessageType(*head.Type)
	if !t.Known() {
		return &ServerMessage{Type: t}, nil
	}

	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("bad %s payload", t), Err: err}
	}

	tick, err := integral(w.Tick, "tick")
	if err != nil {
		return nil, err
	}
	clients, err := integral(w.ClientsCount, "clients_count")
	if err != nil {
		return nil, err
	}

	msg := &ServerMessage{
		Type:            t,
		Message:         w.Message,
		Tick:            tick,
		Timestamp:       w.Timestamp,
		ClientsCount:    int(clients),
		PositionUpdated: w.PositionUpdated,
		Original:        w.Original,
	}
	if w.UnitLocation != nil {
		loc, err := w.UnitLocation.location()
		if err != nil {
			return nil, err
		}
		msg.UnitLocation = loc
	}
	return msg, nil
}

// integral принимает и 5, и 5.0; дробные и слишком большие числа отвергает
func integral(n json.Number, field string) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, &DecodeError{Reason: field + " is not an integer", Err: err}
	}
	return int64(f), nil
}

func (l *wireLocation) location() (*UnitLocation, error) {
	if l.X == nil || l.Y == nil {
		return nil, &DecodeError{Reason: "unit_location needs both x and y"}
	}
	x, y := *l.X, *l.Y
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return nil, &DecodeError{Reason: "unit_location is not finite"}
	}
	return &UnitLocation{X: x, Y: y}, nil
}
