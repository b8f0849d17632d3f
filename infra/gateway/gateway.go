// Package gateway exposes the synchronous rider endpoint: one textual
// request per TCP connection, one reply, always.
package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/easycab/dispatch/core/match"
	"github.com/easycab/dispatch/core/metrics"
	"github.com/easycab/dispatch/core/model"
	"github.com/easycab/dispatch/core/registry"
	"github.com/easycab/dispatch/infra/logger"
)

// Replies sent to riders. The denial strings are fixed literals the rider
// generator matches on.
const (
	DenialReply    = "NO Taxi disponibles en este momento."
	BadFormatReply = "Formato de solicitud incorrecto."
)

// acceptPoll bounds the Accept call so a stop signal is observed promptly.
const acceptPoll = time.Second

// requestReadTimeout bounds how long a connected rider may take to send
// its single request line.
const requestReadTimeout = 10 * time.Second

// Matcher reserves a taxi for a rider. Implemented by match.Engine.
type Matcher interface {
	Match(ctx context.Context, riderID int, riderPos model.Position) (int, model.Assignment, error)
}

// Gateway serializes rider requests into Matcher calls.
type Gateway struct {
	engine   Matcher
	counters *registry.Counters
	sink     metrics.Sink
	log      logger.Logger
	ln       *net.TCPListener
}

// New creates a Gateway around the matcher.
func New(engine Matcher, counters *registry.Counters, sink metrics.Sink, log logger.Logger) *Gateway {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Gateway{engine: engine, counters: counters, sink: sink, log: log}
}

// Listen binds the request port. Failure to bind is fatal to the caller.
func (g *Gateway) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("bind request port %d: %w", port, err)
	}
	g.ln = ln.(*net.TCPListener)
	g.log.Infof("rider gateway listening on port %d", port)
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (g *Gateway) Addr() net.Addr { return g.ln.Addr() }

// Run accepts rider connections until the context is cancelled. The
// accept call is polled with a short deadline so shutdown is never
// blocked on an idle listener.
func (g *Gateway) Run(ctx context.Context) error {
	defer func() {
		if err := g.ln.Close(); err != nil {
			g.log.Errorf("close listener: %v", err)
		}
	}()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := g.ln.SetDeadline(time.Now().Add(acceptPoll)); err != nil {
			return err
		}
		conn, err := g.ln.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.log.Errorf("accept: %v", err)
			continue
		}
		go g.handle(ctx, conn)
	}
}

// handle serves one transaction: read the request line, match, reply
// exactly once.
func (g *Gateway) handle(ctx context.Context, conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil {
			g.log.Debugf("close conn: %v", err)
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(requestReadTimeout)); err != nil {
		g.log.Errorf("set read deadline: %v", err)
		return
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		g.log.Warnf("request from %s: %v", conn.RemoteAddr(), err)
		return
	}

	riderID, pos, err := ParseRequest(line)
	if err != nil {
		g.log.Warnf("bad request from %s: %v", conn.RemoteAddr(), err)
		g.counters.IncDenied()
		if err := g.sink.RecordDenial("bad_format"); err != nil {
			g.log.Errorf("metrics: %v", err)
		}
		g.reply(conn, BadFormatReply)
		return
	}

	g.log.Infof("taxi request from user %d at %s", riderID, pos)
	taxiID, _, err := g.engine.Match(ctx, riderID, pos)
	if err != nil {
		g.reply(conn, DenialReply)
		return
	}
	g.reply(conn, fmt.Sprintf("OK %d", taxiID))
}

func (g *Gateway) reply(conn net.Conn, msg string) {
	if err := conn.SetWriteDeadline(time.Now().Add(requestReadTimeout)); err != nil {
		g.log.Errorf("set write deadline: %v", err)
		return
	}
	if _, err := fmt.Fprintf(conn, "%s\n", msg); err != nil {
		g.log.Errorf("reply to %s: %v", conn.RemoteAddr(), err)
	}
}

// ParseRequest decodes a "userId,x,y" request line.
func ParseRequest(line string) (int, model.Position, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 3 {
		return 0, model.Position{}, fmt.Errorf("invalid request %q", strings.TrimSpace(line))
	}
	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, model.Position{}, fmt.Errorf("invalid request %q", strings.TrimSpace(line))
		}
		vals[i] = v
	}
	return vals[0], model.Position{X: vals[1], Y: vals[2]}, nil
}

var _ Matcher = (*match.Engine)(nil)
