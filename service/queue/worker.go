package queue

import (
	"context"
	"sync"
	"time"

	"CProject/logger"
	errs "CProject/tools/errs"
)

// HandlerFunc applies one envelope. Returning a CodeError with
// CodeTransientInfra asks the worker to re-queue; any other error is a logical
// failure that is logged and skipped so one bad item never stalls the batch.
type HandlerFunc func(ctx context.Context, e *Envelope) error

// IsTransient reports whether the handler error should trigger a re-queue.
func IsTransient(err error) bool {
	return errs.ErrTransientInfra.Is(err)
}

type WorkerConf struct {
	BatchSize   int           // envelopes per drain cycle, default 10
	RetryDelay  time.Duration // fixed delay before a transient re-queue
	MaxAttempts int           // transient re-queues before dead-lettering
	PopTimeout  time.Duration // blocking-pop timeout per cycle
}

func (c *WorkerConf) norm() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = 2 * time.Second
	}
}

// Worker drains one queue with a single consumer goroutine, so drain cycles
// for one worker type never overlap within a process. The blocking pop
// replaces the polling-interval/isProcessing pattern.
type Worker struct {
	name    string
	queue   string
	q       *Queue
	handler HandlerFunc
	conf    WorkerConf

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewWorker(name, queueName string, q *Queue, handler HandlerFunc, conf WorkerConf) *Worker {
	conf.norm()
	return &Worker{
		name:    name,
		queue:   queueName,
		q:       q,
		handler: handler,
		conf:    conf,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)
	logger.Infof("[worker:%s] draining %s batch=%d", w.name, w.queue, w.conf.BatchSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		first, err := w.q.Store().BPop(ctx, w.queue, w.conf.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("[worker:%s] pop failed: %v", w.name, err)
			time.Sleep(w.conf.RetryDelay)
			continue
		}
		if first == nil {
			continue
		}

		batch := [][]byte{first}
		if w.conf.BatchSize > 1 {
			rest, err := w.q.Store().PopBatch(ctx, w.queue, w.conf.BatchSize-1)
			if err != nil {
				logger.Errorf("[worker:%s] batch pop failed: %v", w.name, err)
			} else {
				batch = append(batch, rest...)
			}
		}

		for _, raw := range batch {
			w.applyOne(ctx, raw)
		}
	}
}

func (w *Worker) applyOne(ctx context.Context, raw []byte) {
	e, err := DecodeEnvelope(raw)
	if err != nil {
		// Garbage never becomes readable by retrying.
		logger.Errorf("[worker:%s] drop undecodable item: %v", w.name, err)
		return
	}

	err = w.handler(ctx, e)
	if err == nil {
		return
	}

	if IsTransient(err) {
		e.Attempts++
		if e.Attempts >= w.conf.MaxAttempts {
			logger.Errorf("[worker:%s] attempts exhausted kind=%s: %v", w.name, e.Kind, err)
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if derr := w.q.DeadLetter(dctx, e, err.Error()); derr != nil {
				logger.Errorf("[worker:%s] dead-letter push failed: %v", w.name, derr)
			}
			return
		}
		logger.Warnf("[worker:%s] transient failure kind=%s attempt=%d, re-queueing: %v",
			w.name, e.Kind, e.Attempts, err)
		w.q.PushDelayed(w.queue, e, w.conf.RetryDelay)
		return
	}

	logger.Errorf("[worker:%s] logical failure kind=%s, skipping: %v", w.name, e.Kind, err)
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}
