// Package capture feeds raw 978 MHz capture lines into the decoder.
// A source is standard input ("-"), a file of archived traffic, or a
// host:port TCP feed from the radio program; TCP sources reconnect
// automatically and report outage lengths.
package capture

import (
	"bufio"
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// reconnectDelay is the pause between attempts to reach a TCP source
// that is down.
const reconnectDelay = 5 * time.Second

// maxLineBytes bounds the scanner buffer. An uplink line is ~880
// characters; anything past this is not a capture line.
const maxLineBytes = 64 * 1024

// Line is one raw capture line and the source that produced it.
type Line struct {
	Text   string
	Source string
}

// Reader merges one or more sources into a single line channel.
// Per-source ordering is preserved; cross-source ordering is not.
// The channel closes once every finite source hits EOF and every TCP
// source has been stopped.
type Reader struct {
	sources []string
	lines   chan Line
	log     *logrus.Entry

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// New builds a reader over the given source specs.
func New(sources []string) *Reader {
	return &Reader{
		sources: sources,
		lines:   make(chan Line, 1000),
		log:     logrus.WithField("stage", "capture"),
	}
}

// Start launches one goroutine per source. The returned channel is
// closed when all sources finish or Stop is called.
func (r *Reader) Start(ctx context.Context) <-chan Line {
	ctx, r.cancel = context.WithCancel(ctx)
	for _, src := range r.sources {
		r.wg.Add(1)
		go func(src string) {
			defer r.wg.Done()
			if IsNetwork(src) {
				r.readNetwork(ctx, src)
			} else {
				r.readStream(ctx, src)
			}
		}(src)
	}
	go func() {
		r.wg.Wait()
		close(r.lines)
	}()
	return r.lines
}

// Stop cancels all sources and waits for their goroutines to finish.
func (r *Reader) Stop() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

// IsNetwork reports whether spec names a TCP feed rather than a file.
// A spec with a colon and no path separator is host:port.
func IsNetwork(spec string) bool {
	return spec != "-" && strings.Contains(spec, ":") &&
		!strings.ContainsAny(spec, "/\\")
}

// readStream drains a file or stdin until EOF.
func (r *Reader) readStream(ctx context.Context, src string) {
	var in *os.File
	if src == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(src)
		if err != nil {
			r.log.WithError(err).WithField("source", src).Error("Cannot open capture source")
			return
		}
		defer f.Close()
		in = f
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for sc.Scan() {
		select {
		case r.lines <- Line{Text: sc.Text(), Source: src}:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		r.log.WithError(err).WithField("source", src).Error("Capture source read failed")
	}
}

// readNetwork keeps one TCP source connected until the context ends.
func (r *Reader) readNetwork(ctx context.Context, src string) {
	log := r.log.WithField("source", src)
	var downSince time.Time
	first := true

	for {
		if ctx.Err() != nil {
			return
		}

		d := net.Dialer{Timeout: 10 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", src)
		if err != nil {
			if first {
				log.WithError(err).Warn("Capture source unreachable, retrying")
				first = false
			}
			if downSince.IsZero() {
				downSince = time.Now()
			}
			if !sleep(ctx, reconnectDelay) {
				return
			}
			continue
		}

		if downSince.IsZero() {
			log.Info("Connected to capture source")
		} else {
			out := time.Since(downSince)
			if out < 10*time.Second {
				log.Infof("Connection hiccup of %.1f seconds", out.Seconds())
			} else {
				log.Infof("Connection reestablished after %.1f minutes", out.Minutes())
			}
			downSince = time.Time{}
		}
		first = false

		configureKeepalive(conn, log)
		r.drainConn(ctx, conn, src)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		downSince = time.Now()
	}
}

// drainConn copies lines off one connection until it drops or the
// context ends.
func (r *Reader) drainConn(ctx context.Context, conn net.Conn, src string) {
	// Unblock the scanner when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for sc.Scan() {
		select {
		case r.lines <- Line{Text: sc.Text(), Source: src}:
		case <-ctx.Done():
			return
		}
	}
}

func configureKeepalive(conn net.Conn, log *logrus.Entry) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcp.SetKeepAlive(true); err != nil {
		log.WithError(err).Warn("Failed to enable keepalive")
	}
	if err := tcp.SetKeepAlivePeriod(2 * time.Second); err != nil {
		log.WithError(err).Warn("Failed to set keepalive period")
	}
	if err := tcp.SetNoDelay(true); err != nil {
		log.WithError(err).Warn("Failed to disable Nagle")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
