package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	s3err "github.com/BobDickinson/corona-s3/internal/errors"
	"github.com/BobDickinson/corona-s3/internal/metrics"
	"github.com/BobDickinson/corona-s3/internal/request"
)

type phase int

const (
	phaseDial phase = iota
	phaseWrite
	phaseRead
	phaseDone
)

type dialResult struct {
	route route
	err   error
}

// exchange is one request/response on its own connection, advanced in
// bounded slices by step. The connection is opened off-tick; every later
// socket operation runs under a deadline of one slice.
type exchange struct {
	req    *request.Request
	dialer *Dialer

	ctx    context.Context
	cancel context.CancelFunc
	start  time.Time

	phase   phase
	dialCh  chan dialResult
	wire    []byte
	written int
	reader  *responseReader
	readBuf []byte
	nread   int

	// mu guards conn, dialing and closed against discard from another
	// goroutine.
	mu      sync.Mutex
	conn    net.Conn
	dialing bool
	closed  bool
}

func newExchange(ctx context.Context, d *Dialer, req *request.Request) *exchange {
	ctx, cancel := context.WithCancel(ctx)
	return &exchange{
		req:    req,
		dialer: d,
		ctx:    ctx,
		cancel: cancel,
		start:  time.Now(),
		reader: newResponseReader(req.Method()),
	}
}

// step performs at most one slice of work. It returns done=true with the
// final Result once the exchange has finished either way.
func (x *exchange) step(slice time.Duration) (Result, bool) {
	switch x.phase {
	case phaseDial:
		return x.stepDial(slice)
	case phaseWrite:
		return x.stepWrite(slice)
	case phaseRead:
		return x.stepRead(slice)
	default:
		return nil, false
	}
}

func (x *exchange) stepDial(slice time.Duration) (Result, bool) {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return x.fail("dial", context.Canceled)
	}
	if x.dialCh == nil {
		x.dialCh = make(chan dialResult, 1)
		x.dialing = true
		ch := x.dialCh
		// Name resolution and proxy handshakes block inside Dial with no
		// resumable midpoint, so the connect runs off the tick and is polled.
		go func() {
			r, err := x.dialer.Dial(x.ctx, x.req.Host(), x.req.Proxy())
			ch <- dialResult{route: r, err: err}
			close(ch)
		}()
	}
	x.mu.Unlock()

	timer := time.NewTimer(slice)
	defer timer.Stop()

	var res dialResult
	select {
	case res = <-x.dialCh:
	case <-x.ctx.Done():
		return x.fail("dial", x.ctx.Err())
	case <-timer.C:
		return nil, false
	}

	x.mu.Lock()
	x.dialing = false
	if x.closed {
		x.mu.Unlock()
		if res.route.conn != nil {
			res.route.conn.Close()
		}
		return x.fail("dial", context.Canceled)
	}
	if res.err != nil {
		x.mu.Unlock()
		return x.fail("dial", res.err)
	}
	x.conn = res.route.conn
	x.mu.Unlock()

	x.wire = encodeRequest(x.req, res.route.absolute, res.route.extra)
	x.phase = phaseWrite
	return nil, false
}

func (x *exchange) stepWrite(slice time.Duration) (Result, bool) {
	conn := x.conn
	conn.SetWriteDeadline(time.Now().Add(slice))
	n, err := conn.Write(x.wire[x.written:])
	x.written += n
	if err != nil {
		if isTimeout(err) {
			return nil, false
		}
		return x.fail("write", err)
	}
	if x.written == len(x.wire) {
		x.phase = phaseRead
		x.readBuf = make([]byte, 32*1024)
	}
	return nil, false
}

func (x *exchange) stepRead(slice time.Duration) (Result, bool) {
	conn := x.conn
	conn.SetReadDeadline(time.Now().Add(slice))
	for {
		n, err := conn.Read(x.readBuf)
		if n > 0 {
			x.nread += n
			resp, perr := x.reader.feed(x.readBuf[:n])
			if perr != nil {
				return x.fail("parse", perr)
			}
			if resp != nil {
				return x.succeed(resp)
			}
		}
		if err == nil {
			continue
		}
		if isTimeout(err) {
			return nil, false
		}
		if errors.Is(err, io.EOF) {
			resp, perr := x.reader.eof()
			if perr != nil {
				return x.fail("read", perr)
			}
			return x.succeed(resp)
		}
		return x.fail("read", err)
	}
}

func (x *exchange) succeed(resp *Response) (Result, bool) {
	x.phase = phaseDone
	x.observe(metrics.OutcomeSuccess)
	return &Success{Req: x.req, Response: resp}, true
}

func (x *exchange) fail(op string, err error) (Result, bool) {
	x.phase = phaseDone
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		x.observe(metrics.OutcomeCanceled)
		return &Failure{Req: x.req, Message: "canceled", Err: err}, true
	}
	x.observe(metrics.OutcomeFailure)
	terr := &s3err.TransportError{Op: op, Addr: x.req.Host(), Err: err}
	return &Failure{Req: x.req, Message: terr.Error(), Err: terr}, true
}

func (x *exchange) observe(outcome string) {
	metrics.RequestsTotal.WithLabelValues(x.req.Method(), outcome).Inc()
	metrics.RequestDuration.WithLabelValues(x.req.Method()).Observe(time.Since(x.start).Seconds())
	metrics.BytesSentTotal.Add(float64(x.written))
	metrics.BytesReceivedTotal.Add(float64(x.nread))
}

// discard releases the connection. A dial still in progress is abandoned;
// if it completes anyway the connection is closed as soon as it arrives.
// Safe to call more than once and from any goroutine.
func (x *exchange) discard() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return
	}
	x.closed = true
	x.cancel()
	if x.conn != nil {
		x.conn.Close()
	}
	if x.dialing {
		ch := x.dialCh
		go func() {
			if r := <-ch; r.route.conn != nil {
				r.route.conn.Close()
			}
		}()
		x.dialing = false
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
