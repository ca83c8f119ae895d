// Package follow плавно двигает точку к последней позиции юнита,
// полученной в tick. Все методы вызываются с горутины потребителя.
package follow

import (
	"log/slog"

	"github.com/EgorLis/tickclient/internal/protocol"
	"github.com/ungerik/go3d/vec3"
)

// порог «позиция изменилась» и «цель достигнута»
const epsilon = 0.01

type Settings struct {
	MovementSpeed float32 `json:"movement_speed"`
	PositionScale float32 `json:"position_scale"`
	FixedHeight   float32 `json:"fixed_height"`
}

func DefaultSettings() Settings {
	return Settings{MovementSpeed: 5, PositionScale: 1, FixedHeight: 0}
}

type Follower struct {
	s   Settings
	log *slog.Logger

	position   vec3.T
	target     vec3.T
	lastServer vec3.T
	moving     bool
	hasTarget  bool
}

func New(s Settings, logger *slog.Logger) *Follower {
	if logger == nil {
		logger = slog.Default()
	}
	return &Follower{s: s, log: logger}
}

// ToWorld: серверные (x, y) → мир (x*scale, height, y*scale).
func (f *Follower) ToWorld(loc protocol.UnitLocation) vec3.T {
	return vec3.T{
		float32(loc.X) * f.s.PositionScale,
		f.s.FixedHeight,
		float32(loc.Y) * f.s.PositionScale,
	}
}

// HandleMessage — подписчик OnMessageReceived.
func (f *Follower) HandleMessage(msg *protocol.ServerMessage) {
	if msg == nil || msg.Type != protocol.TypeTick || msg.UnitLocation == nil {
		return
	}
	p := f.ToWorld(*msg.UnitLocation)
	if vec3.Distance(&p, &f.lastServer) <= epsilon {
		return
	}
	f.lastServer = p
	f.target = p
	f.moving = true
	f.hasTarget = true
	f.log.Debug("follow_new_target",
		"x", p[0], "y", p[1], "z", p[2],
		"server_x", msg.UnitLocation.X, "server_y", msg.UnitLocation.Y,
		"tick", msg.Tick)
}

// Update сдвигает позицию к цели не больше чем на speed*dt (секунды).
func (f *Follower) Update(dt float32) {
	if !f.hasTarget || !f.moving {
		return
	}
	f.position = moveTowards(f.position, f.target, f.s.MovementSpeed*dt)
	if vec3.Distance(&f.position, &f.target) < epsilon {
		f.moving = false
		f.log.Debug("follow_target_reached", "x", f.target[0], "y", f.target[1], "z", f.target[2])
	}
}

func moveTowards(from, to vec3.T, maxStep float32) vec3.T {
	delta := vec3.Sub(&to, &from)
	dist := delta.Length()
	if dist <= maxStep || dist == 0 {
		return to
	}
	step := delta.Scaled(maxStep / dist)
	return *from.Add(&step)
}

func (f *Follower) SetMovementSpeed(speed float32) { f.s.MovementSpeed = speed }
func (f *Follower) SetPositionScale(scale float32) { f.s.PositionScale = scale }

// SetFixedHeight меняет высоту, текущая цель переезжает на неё же.
func (f *Follower) SetFixedHeight(h float32) {
	f.s.FixedHeight = h
	f.target[1] = h
}

func (f *Follower) Position() vec3.T { return f.position }
func (f *Follower) Target() vec3.T { return f.target }
func (f *Follower) Moving() bool { return f.moving }
func (f *Follower) HasTarget() bool { return f.hasTarget }
func (f *Follower) SetPosition(p vec3.T) { f.position = p }
