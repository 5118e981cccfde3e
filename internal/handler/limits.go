package handler

import (
	gonet "net"
	"time"

	"golang.org/x/time/rate"

	"github.com/planlines/server/internal/config"
)

// Limits throttles joins per remote host and commands per session.
// Game loop only.
type Limits struct {
	cfg      config.RateLimitConfig
	hello    map[string]*rate.Limiter
	commands map[uint64]*rate.Limiter
	now      func() time.Time
	swept    time.Time
}

func NewLimits(cfg config.RateLimitConfig) *Limits {
	return &Limits{
		cfg:      cfg,
		hello:    make(map[string]*rate.Limiter),
		commands: make(map[uint64]*rate.Limiter),
		now:      time.Now,
	}
}

// AllowHello reports whether addr may join now.
func (l *Limits) AllowHello(addr string) bool {
	if l == nil || !l.cfg.Enabled || l.cfg.HelloPerMinute <= 0 {
		return true
	}
	host, _, err := gonet.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	now := l.now()
	if now.Sub(l.swept) >= time.Minute {
		l.sweepHello(now)
	}
	lim, ok := l.hello[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.cfg.HelloPerMinute)), l.cfg.HelloPerMinute)
		l.hello[host] = lim
	}
	return lim.AllowN(now, 1)
}

// sweepHello drops host limiters that have refilled completely; a fresh
// limiter behaves the same.
func (l *Limits) sweepHello(now time.Time) {
	for host, lim := range l.hello {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(l.hello, host)
		}
	}
	l.swept = now
}

// AllowCommand reports whether session may submit another command now.
func (l *Limits) AllowCommand(session uint64) bool {
	if l == nil || !l.cfg.Enabled || l.cfg.CommandsPerSecond <= 0 {
		return true
	}
	lim, ok := l.commands[session]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.CommandsPerSecond), l.cfg.CommandsPerSecond)
		l.commands[session] = lim
	}
	return lim.AllowN(l.now(), 1)
}

// Forget drops per-session state once a session is gone.
func (l *Limits) Forget(session uint64) {
	if l == nil {
		return
	}
	delete(l.commands, session)
}
