package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/EgorLis/tickclient/internal/lifecycle"
)

const defaultTestText = "Hello from tickclient!"

// сплит с поддержкой кавычек: send "hello there"
var reArg = regexp.MustCompile(`"([^"]*)"|(\S+)`)

var helpLines = []string{
	"help",
	"connect",
	"disconnect",
	"send [text]",
	"status",
	"unit",
	"follow speed|scale|height <value>",
	"pause | resume",
	"blur | focus",
}

// HandleCommand выполняет одну консольную команду. Ответы печатаются с
// горутины потребителя, вперемешку с событиями клиента, но в порядке.
func (a *App) HandleCommand(text string) error {
	fields := splitArgs(text)
	if len(fields) == 0 {
		return nil
	}
	cmd := strings.ToLower(fields[0])

	say := func(s string) { a.queue.Enqueue(func() { a.say(s) }) }

	switch cmd {
	case "help", "?":
		say(strings.Join(helpLines, "\n"))
		return nil

	case "connect":
		a.client.Connect()
		return nil

	case "disconnect":
		a.client.Disconnect()
		return nil

	case "send":
		msg := defaultTestText
		if len(fields) > 1 {
			msg = strings.Join(fields[1:], " ")
		}
		a.client.SendTest(msg)
		return nil

	case "status":
		a.queue.Enqueue(func() { a.say(a.statusLine()) })
		return nil

	case "unit":
		go a.reportUnit()
		return nil

	case "follow":
		return a.followCommand(fields[1:])

	case "pause":
		a.trigger.Notify(lifecycle.Pause)
		return nil
	case "resume":
		a.trigger.Notify(lifecycle.Resume)
		return nil
	case "blur":
		a.trigger.Notify(lifecycle.FocusLost)
		return nil
	case "focus":
		a.trigger.Notify(lifecycle.FocusGained)
		return nil

	default:
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
}

// вызывать на горутине потребителя
func (a *App) statusLine() string {
	c := a.client
	s := fmt.Sprintf("%s | state=%s tick=%d clients=%d",
		a.display.Text(), c.State(), c.CurrentTick(), c.ConnectedClients())
	if a.follower.HasTarget() {
		p, t := a.follower.Position(), a.follower.Target()
		s += fmt.Sprintf(" | unit pos=(%.2f, %.2f, %.2f) target=(%.2f, %.2f, %.2f) moving=%t",
			p[0], p[1], p[2], t[0], t[1], t[2], a.follower.Moving())
	}
	if h := a.probe.Last(); h != nil {
		s += fmt.Sprintf(" | health=%s server_tick=%d", h.Status, h.Tick)
	}
	return s
}

// reportUnit спрашивает /unit у сервера в фоне, ответ печатается через очередь
func (a *App) reportUnit() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u, err := a.probe.Unit(ctx)
	var line string
	if err != nil {
		line = "err: unit: " + err.Error()
	} else {
		line = fmt.Sprintf("[unit] (%.2f, %.2f) tick=%d last_move=%d moved_now=%t",
			u.UnitLocation.X, u.UnitLocation.Y, u.Tick, u.LastPositionUpdateTick, u.PositionUpdatedThisTick)
	}
	a.queue.Enqueue(func() { a.say(line) })
}

// follow speed|scale|height <value>; follower живёт на горутине потребителя
func (a *App) followCommand(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: follow speed|scale|height <value>")
	}
	v, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		return fmt.Errorf("follow %s: bad value %q", args[0], args[1])
	}
	f := float32(v)

	var set func(float32)
	switch strings.ToLower(args[0]) {
	case "speed":
		if f <= 0 {
			return fmt.Errorf("follow speed must be positive")
		}
		set = a.follower.SetMovementSpeed
	case "scale":
		if f <= 0 {
			return fmt.Errorf("follow scale must be positive")
		}
		set = a.follower.SetPositionScale
	case "height":
		set = a.follower.SetFixedHeight
	default:
		return fmt.Errorf("follow: unknown setting %q", args[0])
	}
	name := strings.ToLower(args[0])
	a.queue.Enqueue(func() {
		set(f)
		a.say(fmt.Sprintf("follow %s = %g", name, f))
	})
	return nil
}

// ReadCommands читает команды построчно до EOF или отмены ctx.
// Ошибки команд печатаются и не прерывают чтение.
func (a *App) ReadCommands(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := a.HandleCommand(line); err != nil {
			msg := "err: " + err.Error()
			a.queue.Enqueue(func() { a.say(msg) })
		}
	}
	return sc.Err()
}

func splitArgs(s string) []string {
	m := reArg.FindAllStringSubmatch(s, -1)
	out := make([]string, 0, len(m))
	for _, g := range m {
		if g[1] != "" {
			out = append(out, g[1])
		} else {
			out = append(out, g[2])
		}
	}
	return out
}
