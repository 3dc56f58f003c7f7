package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/infrastructure/resilience"
)

const (
	DefaultSubmitSubject = "documents.submitted"
	DefaultCommitSubject = "imports.committed"
	workerQueueGroup     = "workers"

	// attemptHeader counts deliveries of one submission. Core NATS does not
	// redeliver, so the worker republishes documents that hit a temporary
	// fault.
	attemptHeader = "Docimport-Attempt"
	msgIDHeader   = "Nats-Msg-Id"
)

// Queue carries document submissions to workers and announces committed
// imports to downstream consumers.
type Queue struct {
	conn          *nats.Conn
	submitSubject string
	commitSubject string
	executor      *resilience.Executor
	logger        *slog.Logger

	maxDeliveries   int
	redeliveryDelay time.Duration
	pending         sync.WaitGroup
}

type Options struct {
	SubmitSubject        string
	CommitSubject        string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	// MaxDeliveries bounds how often a submission is handed to a worker.
	MaxDeliveries int
	// RedeliveryDelay is multiplied by the attempt number.
	RedeliveryDelay    time.Duration
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func New(url string) (*Queue, error) {
	return NewWithOptions(url, Options{})
}

func NewWithOptions(url string, options Options) (*Queue, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docimport"),
		nats.Timeout(orDefault(options.ConnectTimeout, 2*time.Second)),
		nats.ReconnectWait(orDefault(options.ReconnectWait, 2*time.Second)),
		nats.MaxReconnects(orDefault(options.MaxReconnects, 60)),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:            conn,
		submitSubject:   orDefault(options.SubmitSubject, DefaultSubmitSubject),
		commitSubject:   orDefault(options.CommitSubject, DefaultCommitSubject),
		executor:        options.ResilienceExecutor,
		logger:          logger,
		maxDeliveries:   orDefault(options.MaxDeliveries, 3),
		redeliveryDelay: orDefault(options.RedeliveryDelay, 10*time.Second),
	}, nil
}

func orDefault[T comparable](value, def T) T {
	var zero T
	if value == zero {
		return def
	}
	return value
}

// Close waits for scheduled redeliveries before closing the connection.
func (q *Queue) Close() {
	q.pending.Wait()
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishDocumentSubmitted(ctx context.Context, documentID string) error {
	return q.publish(ctx, submission(q.submitSubject, documentID, 1))
}

func submission(subject, documentID string, attempt int) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = []byte(documentID)
	msg.Header.Set(attemptHeader, strconv.Itoa(attempt))
	return msg
}

// importCommittedEvent is the wire format of imports.committed.
type importCommittedEvent struct {
	ImportID       string              `json:"import_id"`
	DocumentType   domain.DocumentType `json:"document_type"`
	SourceFilename string              `json:"source_filename,omitempty"`
	Fingerprint    string              `json:"fingerprint,omitempty"`
	Actor          string              `json:"actor"`
	Created        []domain.EntityRef  `json:"created"`
	Updated        []domain.EntityRef  `json:"updated"`
	CommittedAt    time.Time           `json:"committed_at"`
}

func encodeCommitEvent(record *domain.ImportRecord) ([]byte, error) {
	if record == nil {
		return nil, errors.New("nil import record")
	}
	return json.Marshal(importCommittedEvent{
		ImportID:       record.ID,
		DocumentType:   record.DocumentType,
		SourceFilename: record.SourceFilename,
		Fingerprint:    record.Fingerprint,
		Actor:          record.Actor,
		Created:        record.Created,
		Updated:        record.Updated,
		CommittedAt:    record.CreatedAt,
	})
}

// PublishImportCommitted announces a committed import. The import id doubles
// as the message id so a JetStream stream on the subject drops repeats.
func (q *Queue) PublishImportCommitted(ctx context.Context, record *domain.ImportRecord) error {
	payload, err := encodeCommitEvent(record)
	if err != nil {
		return fmt.Errorf("encode import event: %w", err)
	}
	msg := nats.NewMsg(q.commitSubject)
	msg.Data = payload
	msg.Header.Set(msgIDHeader, record.ID)
	return q.publish(ctx, msg)
}

func (q *Queue) publish(ctx context.Context, msg *nats.Msg) error {
	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, publishPolicy)
	} else {
		err = call(ctx)
	}
	return asTemporary(msg.Subject, err)
}

// SubscribeDocumentSubmitted hands each submission to handler on the worker
// queue group and blocks until ctx is done. Submissions failing with
// domain.ErrTemporary are republished with a growing delay until
// MaxDeliveries is reached.
func (q *Queue) SubscribeDocumentSubmitted(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.submitSubject, workerQueueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		documentID := string(msg.Data)
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		err := handler(handlerCtx, documentID)
		if err == nil {
			return
		}
		next, delay, ok := q.redelivery(msg, err)
		if !ok {
			q.logger.Error("worker_handler_failed", "document_id", documentID, "attempt", attemptOf(msg), "error", err)
			return
		}
		q.logger.Warn("document_redelivery_scheduled",
			"document_id", documentID,
			"attempt", attemptOf(next),
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		q.schedule(ctx, next, delay)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// redelivery decides whether a failed submission goes back on the subject.
func (q *Queue) redelivery(msg *nats.Msg, err error) (*nats.Msg, time.Duration, bool) {
	attempt := attemptOf(msg)
	if !domain.IsKind(err, domain.ErrTemporary) || attempt >= q.maxDeliveries {
		return nil, 0, false
	}
	return submission(msg.Subject, string(msg.Data), attempt+1), q.redeliveryDelay * time.Duration(attempt), true
}

func (q *Queue) schedule(ctx context.Context, msg *nats.Msg, delay time.Duration) {
	q.pending.Add(1)
	go func() {
		defer q.pending.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			q.logger.Warn("document_redelivery_abandoned", "document_id", string(msg.Data))
			return
		case <-timer.C:
		}
		if err := q.publish(context.Background(), msg); err != nil {
			q.logger.Error("document_redelivery_failed", "document_id", string(msg.Data), "error", err)
		}
	}()
}

func attemptOf(msg *nats.Msg) int {
	if msg.Header == nil {
		return 1
	}
	attempt, err := strconv.Atoi(msg.Header.Get(attemptHeader))
	if err != nil || attempt < 1 {
		return 1
	}
	return attempt
}
