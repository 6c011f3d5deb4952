package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"CProject/logger"
)

// QueueForKind maps an envelope kind back to its home queue, used when
// recovering dead letters.
func QueueForKind(k Kind) string {
	switch k {
	case KindDeliveryReceipt:
		return QueueDelivery
	case KindReadReceipt:
		return QueueRead
	case KindNotification:
		return QueueNotify
	default:
		return QueueMessage
	}
}

type SupervisorConf struct {
	BatchSize    int
	MaxAttempts  int
	PopTimeout   time.Duration
	InitialDelay time.Duration // first transient re-queue delay
	MaxDelay     time.Duration // cap on the exponential delay
	DLQInterval  time.Duration // dead-letter recovery period
	DLQBatch     int           // dead letters recovered per period
}

func (c *SupervisorConf) norm() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = 2 * time.Second
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Minute
	}
	if c.DLQInterval <= 0 {
		c.DLQInterval = 5 * time.Minute
	}
	if c.DLQBatch <= 0 {
		c.DLQBatch = 20
	}
}

// Supervisor drains one queue like Worker but puts every apply behind a
// circuit breaker, classifies failures by signature, spreads transient
// retries with exponential delays, and runs the dead-letter recovery loop.
// One Supervisor per queue per process.
type Supervisor struct {
	name    string
	queue   string
	q       *Queue
	handler HandlerFunc
	conf    SupervisorConf
	cb      *gobreaker.CircuitBreaker

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewSupervisor(name, queueName string, q *Queue, handler HandlerFunc, conf SupervisorConf) *Supervisor {
	conf.norm()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= 10 && float64(c.TotalFailures)/float64(c.Requests) >= 0.6
		},
		OnStateChange: func(n string, from, to gobreaker.State) {
			logger.Warnf("[supervisor:%s] breaker %s -> %s", n, from, to)
		},
	})
	return &Supervisor{
		name:    name,
		queue:   queueName,
		q:       q,
		handler: handler,
		conf:    conf,
		cb:      cb,
		stopCh:  make(chan struct{}),
	}
}

func (s *Supervisor) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()
	logger.Infof("[supervisor:%s] draining %s", s.name, s.queue)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		first, err := s.q.Store().BPop(ctx, s.queue, s.conf.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("[supervisor:%s] pop failed: %v", s.name, err)
			time.Sleep(s.conf.InitialDelay)
			continue
		}
		if first == nil {
			continue
		}

		batch := [][]byte{first}
		if s.conf.BatchSize > 1 {
			rest, err := s.q.Store().PopBatch(ctx, s.queue, s.conf.BatchSize-1)
			if err != nil {
				logger.Errorf("[supervisor:%s] batch pop failed: %v", s.name, err)
			} else {
				batch = append(batch, rest...)
			}
		}
		for _, raw := range batch {
			s.applyOne(ctx, raw)
		}
	}
}

func (s *Supervisor) applyOne(ctx context.Context, raw []byte) {
	e, err := DecodeEnvelope(raw)
	if err != nil {
		logger.Errorf("[supervisor:%s] drop undecodable item: %v", s.name, err)
		return
	}

	_, err = s.cb.Execute(func() (any, error) {
		return nil, s.handler(ctx, e)
	})
	if err == nil {
		return
	}

	// An open breaker is itself an infrastructure condition; the item did
	// not run, so re-drive it without judging the payload.
	transient := Classify(err) ||
		err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests

	if !transient {
		logger.Errorf("[supervisor:%s] permanent failure kind=%s, dead-lettering: %v", s.name, e.Kind, err)
		s.deadLetter(e, err.Error())
		return
	}

	e.Attempts++
	if e.Attempts >= s.conf.MaxAttempts {
		logger.Errorf("[supervisor:%s] attempts exhausted kind=%s: %v", s.name, e.Kind, err)
		s.deadLetter(e, err.Error())
		return
	}
	delay := s.retryDelay(e.Attempts)
	logger.Warnf("[supervisor:%s] transient failure kind=%s attempt=%d, retry in %s: %v",
		s.name, e.Kind, e.Attempts, delay, err)
	s.q.PushDelayed(s.queue, e, delay)
}

// retryDelay walks a fresh exponential policy to the attempt's slot so delays
// are deterministic per attempt regardless of interleaving.
func (s *Supervisor) retryDelay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.conf.InitialDelay
	bo.MaxInterval = s.conf.MaxDelay
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0
	d := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = bo.NextBackOff()
	}
	if d > s.conf.MaxDelay {
		d = s.conf.MaxDelay
	}
	return d
}

func (s *Supervisor) deadLetter(e *Envelope, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.q.DeadLetter(ctx, e, reason); err != nil {
		logger.Errorf("[supervisor:%s] dead-letter push failed: %v", s.name, err)
	}
}

// RunDLQRecovery periodically moves a bounded slice of dead letters back to
// their home queues with a reset attempt budget. Run it once per process, not
// per queue.
func (s *Supervisor) RunDLQRecovery(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()
	t := time.NewTicker(s.conf.DLQInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-t.C:
			s.recoverDead(ctx)
		}
	}
}

func (s *Supervisor) recoverDead(ctx context.Context) {
	batch, err := s.q.Store().PopBatch(ctx, QueueDead, s.conf.DLQBatch)
	if err != nil {
		logger.Errorf("[supervisor:%s] dead-letter pop failed: %v", s.name, err)
		return
	}
	for _, raw := range batch {
		e, err := DecodeEnvelope(raw)
		if err != nil {
			logger.Errorf("[supervisor:%s] drop undecodable dead letter: %v", s.name, err)
			continue
		}
		e.Attempts = 0
		e.Reason = ""
		home := QueueForKind(e.Kind)
		if err := s.q.Push(ctx, home, e); err != nil {
			logger.Errorf("[supervisor:%s] dead-letter requeue to %s failed: %v", s.name, home, err)
			// Put it back so the letter is not lost.
			s.deadLetter(e, "requeue failed")
			continue
		}
		logger.Infof("[supervisor:%s] recovered dead letter kind=%s to %s", s.name, e.Kind, home)
	}
}

func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
