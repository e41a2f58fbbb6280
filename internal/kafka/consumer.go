package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"time"
)

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// EventHandler receives every decoded envelope together with its headers.
type EventHandler func(ctx context.Context, env Envelope, headers map[string]string) error

// Consume reads the order event topic until ctx ends. Undecodable messages
// are logged and committed; a failing handler retries the same message.
func Consume(ctx context.Context, cfg ConsumerConfig, log *zap.SugaredLogger, handle EventHandler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.Brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  0,
		StartOffset:     kafka.FirstOffset,
		ReadLagInterval: -1,
	})
	defer r.Close()

	log.Infow("kafka consumer starting", "brokers", cfg.Brokers, "topic", cfg.Topic, "group", cfg.GroupID)

	backoff := 300 * time.Millisecond
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warnw("kafka fetch error", "err", err)
			if !sleep(ctx, backoff) {
				return nil
			}
			continue
		}

		env, err := decodeEvent(m.Value)
		if err != nil {
			log.Warnw("kafka invalid event, skip and commit", "partition", m.Partition, "offset", m.Offset, "err", err)
			commit(ctx, r, m, log)
			continue
		}

		headers := headerMap(m.Headers)
		for {
			err := handle(ctx, env, headers)
			if err == nil {
				break
			}
			log.Warnw("event handler failed, will retry", "event_id", env.EventID, "err", err)
			if !sleep(ctx, backoff) {
				return nil
			}
		}
		commit(ctx, r, m, log)
	}
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message, log *zap.SugaredLogger) {
	if cErr := r.CommitMessages(ctx, m); cErr != nil {
		log.Warnw("kafka commit failed", "err", cErr)
		return
	}
	log.Debugw("kafka committed", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset)
}

func decodeEvent(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, err
	}
	if env.EventType == "" {
		return Envelope{}, errors.New("event without eventType")
	}
	if env.CorrelationID == "" {
		return Envelope{}, fmt.Errorf("event %s without correlationId", env.EventID)
	}
	return env, nil
}

func headerMap(hs []kafka.Header) map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}

// Expired reports whether the expires-at header lies before now.
func Expired(headers map[string]string, now time.Time) bool {
	v, ok := headers[HeaderExpiresAt]
	if !ok {
		return false
	}
	at, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return false
	}
	return at.Before(now)
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
