package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	errs "CProject/tools/errs"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"typed transient", errs.ErrTransientInfra.WrapMsg("x"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("apply: %w", context.DeadlineExceeded), true},
		{"canceled at shutdown", context.Canceled, true},
		{"wrapped canceled", fmt.Errorf("apply: %w", context.Canceled), true},
		{"net timeout", &net.DNSError{IsTimeout: true}, true},
		{"conn refused text", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), true},
		{"mongo selection", errors.New("server selection error: context deadline exceeded"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"validation", errs.ErrEmptyContent.WrapMsg("no content"), false},
		{"plain logical", errors.New("sender not in conversation"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.transient, Classify(tc.err))
		})
	}
}

func TestQueueForKind(t *testing.T) {
	require.Equal(t, QueueMessage, QueueForKind(KindNewMessage))
	require.Equal(t, QueueDelivery, QueueForKind(KindDeliveryReceipt))
	require.Equal(t, QueueRead, QueueForKind(KindReadReceipt))
	require.Equal(t, QueueNotify, QueueForKind(KindNotification))
	require.Equal(t, QueueMessage, QueueForKind(Kind("unknown")))
}

func TestSupervisorPermanentFailureDeadLetters(t *testing.T) {
	store := newMemStore()
	q := New(store)
	ctx := context.Background()

	s := NewSupervisor("t", QueueMessage, q, func(context.Context, *Envelope) error {
		return errors.New("malformed conversation reference")
	}, SupervisorConf{MaxAttempts: 3})

	e := mustEnvelope(t, KindNewMessage)
	raw, _ := e.Encode()
	s.applyOne(ctx, raw)

	n, _ := store.Len(ctx, QueueDead)
	require.EqualValues(t, 1, n, "permanent failure must dead-letter immediately")
	m, _ := store.Len(ctx, QueueMessage)
	require.EqualValues(t, 0, m)
}

func TestSupervisorTransientRetriesThenDeadLetters(t *testing.T) {
	store := newMemStore()
	q := New(store)
	ctx := context.Background()

	s := NewSupervisor("t", QueueMessage, q, func(context.Context, *Envelope) error {
		return errors.New("i/o timeout")
	}, SupervisorConf{MaxAttempts: 2, InitialDelay: 5 * time.Millisecond})

	e := mustEnvelope(t, KindNewMessage)
	raw, _ := e.Encode()
	s.applyOne(ctx, raw)

	// First failure re-queues after the delay.
	var requeued []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		requeued, _ = store.BPop(ctx, QueueMessage, 0)
		if requeued != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, requeued, "transient failure did not re-queue")
	re, err := DecodeEnvelope(requeued)
	require.NoError(t, err)
	require.Equal(t, 1, re.Attempts)

	// Second failure exhausts the budget.
	s.applyOne(ctx, requeued)
	n, _ := store.Len(ctx, QueueDead)
	require.EqualValues(t, 1, n)
}

func TestSupervisorDLQRecoveryRequeuesToHomeQueue(t *testing.T) {
	store := newMemStore()
	q := New(store)
	ctx := context.Background()

	s := NewSupervisor("t", QueueMessage, q, nil, SupervisorConf{})

	e := mustEnvelope(t, KindNotification)
	e.Attempts = 3
	require.NoError(t, q.DeadLetter(ctx, e, "attempts exhausted"))

	s.recoverDead(ctx)

	n, _ := store.Len(ctx, QueueDead)
	require.EqualValues(t, 0, n)
	raw, _ := store.BPop(ctx, QueueNotify, 0)
	require.NotNil(t, raw, "dead letter not recovered to home queue")
	re, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	require.Equal(t, 0, re.Attempts, "recovery must reset the attempt budget")
	require.Empty(t, re.Reason)
}

func TestSupervisorRetryDelayGrows(t *testing.T) {
	s := NewSupervisor("t", QueueMessage, New(newMemStore()), nil, SupervisorConf{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
	})
	d1 := s.retryDelay(1)
	d3 := s.retryDelay(3)
	require.LessOrEqual(t, d1, d3)
	require.LessOrEqual(t, d3, time.Second)
}
