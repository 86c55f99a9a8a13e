package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/policy-query-engine/internal/infrastructure/resilience"
)

// IndexRequest is the message body published for asynchronous indexing.
type IndexRequest struct {
	DocumentID  string    `json:"document_id"`
	RequestedAt time.Time `json:"requested_at"`
}

type Queue struct {
	conn     *nats.Conn
	subject  string
	group    string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout     time.Duration
	ReconnectWait      time.Duration
	MaxReconnects      int
	QueueGroup         string
	ResilienceExecutor *resilience.Executor
}

func New(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	group := strings.TrimSpace(options.QueueGroup)
	if group == "" {
		group = "indexers"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("policy-query-engine"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		group:    group,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishIndexRequest(ctx context.Context, documentID string) error {
	payload, err := encodeIndexRequest(documentID, time.Now().UTC())
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	return q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
}

// SubscribeIndexRequests delivers each request to handler until ctx is
// cancelled, then drains the subscription.
func (q *Queue) SubscribeIndexRequests(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		req, err := decodeIndexRequest(msg.Data)
		if err != nil {
			slog.Warn("index_request_invalid", "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, req.DocumentID); err != nil {
			slog.Error("index_request_failed", "document_id", req.DocumentID, "error", err)
		}
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

func encodeIndexRequest(documentID string, at time.Time) ([]byte, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("index request: document id is required")
	}
	return json.Marshal(IndexRequest{DocumentID: documentID, RequestedAt: at})
}

// decodeIndexRequest also accepts a bare document id.
func decodeIndexRequest(data []byte) (IndexRequest, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return IndexRequest{}, fmt.Errorf("empty index request")
	}
	if !strings.HasPrefix(raw, "{") {
		return IndexRequest{DocumentID: raw}, nil
	}
	var req IndexRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return IndexRequest{}, fmt.Errorf("decode index request: %w", err)
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		return IndexRequest{}, fmt.Errorf("index request without document id")
	}
	return req, nil
}
