package simserver

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/EgorLis/tickclient/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

type tickFrame struct {
	Type            protocol.MessageType   `json:"type"`
	Tick            int64                  `json:"tick"`
	Timestamp       float64                `json:"timestamp"`
	ClientsCount    int                    `json:"clients_count"`
	UnitLocation    *protocol.UnitLocation `json:"unit_location"`
	PositionUpdated bool                   `json:"position_updated"`
}

type welcomeFrame struct {
	Type    protocol.MessageType `json:"type"`
	Message string               `json:"message"`
	Tick    int64                `json:"tick"`
}

type echoFrame struct {
	Type     protocol.MessageType `json:"type"`
	Original json.RawMessage      `json:"original"`
	Tick     int64                `json:"tick"`
}

// peer — одно соединение: readPump в горутине обработчика, writePump отдельно
type peer struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger
	idle time.Duration // без входящих кадров, pong и ping дольше idle отключаем

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newPeer(id string, conn *websocket.Conn, idle time.Duration, logger *slog.Logger) *peer {
	return &peer{
		id:   id,
		conn: conn,
		log:  logger,
		idle: idle,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue не блокирует: медленного клиента отключаем
func (p *peer) enqueue(data []byte) {
	select {
	case <-p.done:
	case p.send <- data:
	default:
		p.log.Warn("peer_send_buffer_full", "peer_id", p.id)
		p.close()
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
			time.Now().Add(time.Second))
		_ = p.conn.Close()
	})
}

func (p *peer) readPump(handle func(*peer, []byte)) {
	defer p.close()
	p.conn.SetReadLimit(maxMessageSize)
	extend := func() error { return p.conn.SetReadDeadline(time.Now().Add(p.idle)) }
	_ = extend()
	p.conn.SetPongHandler(func(string) error { return extend() })
	// ping клиента до нас не доходит через ReadMessage: продлеваем здесь
	// и отвечаем pong, как это делает обработчик по умолчанию
	p.conn.SetPingHandler(func(data string) error {
		_ = extend()
		err := p.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Warn("peer_read_failed", "peer_id", p.id, "error", err)
			}
			return
		}
		_ = extend()
		if mt == websocket.TextMessage {
			handle(p, data)
		}
	}
}

func (p *peer) writePump() {
	t := time.NewTicker(p.idle * 9 / 10)
	defer t.Stop()
	for {
		select {
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.close()
				return
			}
		case <-t.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}
