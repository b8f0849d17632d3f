package sim

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/easycab/dispatch/core/model"
	"github.com/easycab/dispatch/infra/logger"
)

// Rider is one simulated user: after Delay it sends a single taxi
// request and waits for the reply.
type Rider struct {
	ID    int
	Pos   model.Position
	Delay time.Duration
}

// replyTimeout mirrors how long a user is willing to wait for an answer.
const replyTimeout = 65 * time.Second

// Request performs the one-shot request/reply transaction against the
// gateway at addr and returns the raw reply line.
func (r Rider) Request(ctx context.Context, addr string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(r.Delay):
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("user %d: connect %s: %w", r.ID, addr, err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := fmt.Fprintf(conn, "%d,%d,%d\n", r.ID, r.Pos.X, r.Pos.Y); err != nil {
		return "", fmt.Errorf("user %d: send request: %w", r.ID, err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(replyTimeout)); err != nil {
		return "", err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && reply == "" {
		return "", fmt.Errorf("user %d: no reply: %w", r.ID, err)
	}
	return strings.TrimSpace(reply), nil
}

// RunRiders fires every rider concurrently and logs the outcomes. It
// returns once all riders have an answer or the context is cancelled.
func RunRiders(ctx context.Context, riders []Rider, addr string, log logger.Logger) {
	if log == nil {
		log = logger.NopLogger{}
	}
	var wg sync.WaitGroup
	for _, r := range riders {
		wg.Add(1)
		go func(r Rider) {
			defer wg.Done()
			start := time.Now()
			reply, err := r.Request(ctx, addr)
			if err != nil {
				log.Errorf("user %d: %v", r.ID, err)
				return
			}
			elapsed := time.Since(start).Round(time.Second)
			if strings.HasPrefix(reply, "OK ") {
				log.Infof("user %d got taxi %s after %s", r.ID, strings.TrimPrefix(reply, "OK "), elapsed)
			} else {
				log.Warnf("user %d was denied: %s", r.ID, reply)
			}
		}(r)
	}
	wg.Wait()
}

// LoadRiders reads a rider coordinates file: one "x,y,delaySeconds" line
// per rider, ids assigned in file order starting at 1. Blank lines and
// lines starting with # are skipped.
func LoadRiders(path string) ([]Rider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var riders []Rider
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Split(text, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%s:%d: expected x,y,delay", path, line)
		}
		vals := make([]int, 3)
		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("%s:%d: expected x,y,delay", path, line)
			}
			vals[i] = v
		}
		riders = append(riders, Rider{
			ID:    len(riders) + 1,
			Pos:   model.Position{X: vals[0], Y: vals[1]},
			Delay: time.Duration(vals[2]) * time.Second,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return riders, nil
}
