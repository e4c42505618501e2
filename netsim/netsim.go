/*
Package netsim connects two datagram endpoints through a simulated
network with latency, jitter and loss. Delivery runs on background
workers, receiving never blocks unless Wait is used.
*/
package netsim

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
)

// DefaultWorkers bounds the datagrams in flight per direction
const DefaultWorkers = 64

var ErrClosed = errors.New("netsim: endpoint closed")

// Options describe one direction of the link
type Options struct {
	Latency time.Duration
	// Jitter is added to Latency, uniformly distributed in [0, Jitter)
	Jitter time.Duration
	// Loss is the probability of dropping a datagram
	Loss float64

	Seed    int64
	Workers int
}

type queue struct {
	mu     deadlock.Mutex
	cond   *sync.Cond
	items  [][]byte
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(b []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.items = append(q.items, b)
	q.cond.Signal()
}

func (q *queue) tryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	b := q.items[0]
	q.items = q.items[1:]
	return b, true
}

// wait blocks until a datagram is queued, the queue is closed or ctx
// is done
func (q *queue) wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return ErrClosed
	}
	return nil
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// link carries datagrams in one direction
type link struct {
	opts Options
	dst  *queue

	rngMu deadlock.Mutex
	rng   *rand.Rand

	swg sizedwaitgroup.SizedWaitGroup

	sent, dropped, delivered int
	statsMu                  deadlock.Mutex

	log zerolog.Logger
}

func newLink(opts Options, dst *queue, log zerolog.Logger) *link {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &link{
		opts: opts,
		dst:  dst,
		rng:  rand.New(rand.NewSource(opts.Seed)),
		swg:  sizedwaitgroup.New(opts.Workers),
		log:  log,
	}
}

// roll decides the fate of one datagram
func (l *link) roll() (drop bool, delay time.Duration) {
	l.rngMu.Lock()
	defer l.rngMu.Unlock()

	if l.opts.Loss > 0 && l.rng.Float64() < l.opts.Loss {
		return true, 0
	}
	delay = l.opts.Latency
	if l.opts.Jitter > 0 {
		delay += time.Duration(l.rng.Int63n(int64(l.opts.Jitter)))
	}
	return false, delay
}

func (l *link) send(b []byte) {
	drop, delay := l.roll()

	l.statsMu.Lock()
	l.sent++
	if drop {
		l.dropped++
	}
	l.statsMu.Unlock()

	if drop {
		l.log.Trace().Str("event", "drop").Int("len", len(b)).Msg("")
		return
	}

	b = append([]byte(nil), b...)
	l.swg.Add()
	go func() {
		defer l.swg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		l.dst.push(b)

		l.statsMu.Lock()
		l.delivered++
		l.statsMu.Unlock()
	}()
}

// Stats counts the datagrams of one direction
type Stats struct {
	Sent, Dropped, Delivered int
}

func (l *link) stats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return Stats{Sent: l.sent, Dropped: l.dropped, Delivered: l.delivered}
}

// An End is one side of a simulated link. It satisfies the socket
// interface of the connection and the capture package.
type End struct {
	in  *queue
	out *link

	peer *End
}

// Pair returns two connected ends, ab applies to datagrams from a to b
// and ba to the other direction
func Pair(ab, ba Options, log zerolog.Logger) (a, b *End) {
	log = log.With().Str("ctx", "netsim").Logger()

	qa, qb := newQueue(), newQueue()
	a = &End{in: qa, out: newLink(ab, qb, log.With().Str("dir", "a->b").Logger())}
	b = &End{in: qb, out: newLink(ba, qa, log.With().Str("dir", "b->a").Logger())}
	a.peer, b.peer = b, a
	return a, b
}

func (e *End) Send(b []byte) error {
	e.in.mu.Lock()
	closed := e.in.closed
	e.in.mu.Unlock()
	if closed {
		return ErrClosed
	}

	e.out.send(b)
	return nil
}

func (e *End) Receive() ([]byte, bool, error) {
	b, ok := e.in.tryPop()
	return b, ok, nil
}

// Wait blocks until a datagram is ready, the end is closed or ctx is
// done
func (e *End) Wait(ctx context.Context) error { return e.in.wait(ctx) }

// Stats returns the counters of datagrams sent from this end
func (e *End) Stats() Stats { return e.out.stats() }

// Close stops both ends after the datagrams in flight are delivered
func (e *End) Close() error {
	e.out.swg.Wait()
	e.peer.out.swg.Wait()
	e.in.close()
	e.peer.in.close()
	return nil
}
