package service

import (
	"context"
	"encoding/json"
	"time"

	"kvrelay/internal/constants"
	"kvrelay/internal/errors"
	"kvrelay/internal/kv"
	"kvrelay/internal/metrics"
	"kvrelay/internal/models"
	"kvrelay/internal/privacy"
	"kvrelay/internal/tracing"
	"kvrelay/internal/validation"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// IngestResult summarises one webhook batch
type IngestResult struct {
	Received int
	Queued   int
	Skipped  int
}

// RelayService is the pull/ack queue. Every operation goes straight to the
// store; there is no in-process state shared between requests.
type RelayService interface {
	// Ingest parses a verified webhook body and queues every text message
	Ingest(ctx context.Context, body []byte) (IngestResult, error)
	// Pull returns up to limit queued messages, oldest first. A limit of
	// zero selects the configured default.
	Pull(ctx context.Context, limit int) ([]models.QueuedMessage, error)
	// Ack deletes the entries whose metadata matches one of messageIDs and
	// returns how many were deleted
	Ack(ctx context.Context, messageIDs []string) (int, error)
}

type relayService struct {
	store        kv.Store
	logger       *logrus.Logger
	ttl          time.Duration
	defaultLimit int
	maxLimit     int
	now          func() time.Time
}

func NewRelayService(store kv.Store, cfg models.QueueConfig, logger *logrus.Logger) RelayService {
	if logger == nil {
		logger = logrus.New()
	}

	ttlSec := cfg.TTLSeconds
	if ttlSec <= 0 {
		ttlSec = constants.DefaultMessageTTLSec
	}
	defaultLimit := cfg.DefaultPullLimit
	if defaultLimit <= 0 {
		defaultLimit = constants.DefaultPullLimit
	}
	maxLimit := cfg.MaxPullLimit
	if maxLimit <= 0 {
		maxLimit = constants.DefaultMaxPullLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}

	return &relayService{
		store:        store,
		logger:       logger,
		ttl:          time.Duration(ttlSec) * time.Second,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		now:          time.Now,
	}
}

func (s *relayService) Ingest(ctx context.Context, body []byte) (IngestResult, error) {
	ctx, span := tracing.StartSpan(ctx, "relay.ingest", attribute.Int("webhook.body_size", len(body)))
	defer span.End()

	var result IngestResult

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		appErr := errors.NewMalformedRequestError("webhook body is not a valid event batch", err)
		tracing.RecordError(ctx, appErr)
		return result, appErr
	}

	result.Received = len(payload.Events)
	createdAt := s.now().UnixMilli()

	for _, event := range payload.Events {
		if !event.IsTextMessage() {
			result.Skipped++
			s.logger.WithFields(logrus.Fields{
				LogFieldEvent:       event.Type,
				LogFieldMessageType: messageType(event),
			}).Debug("Skipping non-text event")
			continue
		}

		if err := validation.ValidateMessageID(event.Message.ID); err != nil || event.Timestamp < 0 {
			result.Skipped++
			s.logger.WithFields(logrus.Fields{
				LogFieldMessageID: privacy.MaskMessageID(event.Message.ID),
				"timestamp":       event.Timestamp,
			}).Warn("Skipping text message without usable id or timestamp")
			continue
		}

		msg := models.QueuedMessage{
			MessageID:  event.Message.ID,
			UserID:     event.Source.UserID,
			Text:       event.Message.Text,
			ReceivedAt: event.Timestamp,
			CreatedAt:  createdAt,
		}

		if err := s.enqueue(ctx, msg); err != nil {
			tracing.RecordError(ctx, err)
			return result, err
		}
		result.Queued++
	}

	metrics.AddToCounter("messages_queued_total", float64(result.Queued), nil, "Messages written to the queue")
	metrics.AddToCounter("events_skipped_total", float64(result.Skipped), nil, "Webhook events that were not queued")
	tracing.AddSpanAttributes(ctx,
		attribute.Int("relay.events_received", result.Received),
		attribute.Int("relay.messages_queued", result.Queued),
	)

	s.logger.WithFields(logrus.Fields{
		LogFieldOperation: "ingest",
		LogFieldCount:     result.Received,
		LogFieldQueued:    result.Queued,
		LogFieldSkipped:   result.Skipped,
	}).Info("Webhook batch ingested")

	return result, nil
}

func (s *relayService) enqueue(ctx context.Context, msg models.QueuedMessage) error {
	key := MessageKey(msg.ReceivedAt, msg.MessageID)

	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to encode queued message")
	}

	metadata, err := json.Marshal(models.MessageMetadata{MessageID: msg.MessageID})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to encode message metadata")
	}

	if err := s.store.Put(ctx, key, value, kv.PutOptions{Metadata: metadata, TTL: s.ttl}); err != nil {
		return errors.NewStoreError("put", key, err)
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldKey:       privacy.MaskKey(key),
		LogFieldMessageID: privacy.MaskMessageID(msg.MessageID),
		LogFieldUserID:    privacy.MaskUserID(msg.UserID),
	}).Debug("Message queued")
	return nil
}

func (s *relayService) Pull(ctx context.Context, limit int) ([]models.QueuedMessage, error) {
	if limit < 0 {
		return nil, errors.NewValidationError("limit", "", "must be a positive integer")
	}
	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	ctx, span := tracing.StartSpan(ctx, "relay.pull", attribute.Int("relay.limit", limit))
	defer span.End()

	entries, err := s.store.List(ctx, kv.ListOptions{Prefix: constants.MessageKeyPrefix, Limit: limit})
	if err != nil {
		appErr := errors.NewStoreError("list", "", err)
		tracing.RecordError(ctx, appErr)
		return nil, appErr
	}

	messages := make([]models.QueuedMessage, 0, len(entries))
	skipped := 0
	for _, entry := range entries {
		value, found, err := s.store.Get(ctx, entry.Key)
		if errors.HasCode(err, errors.ErrCodeStoreCorrupt) {
			skipped++
			s.logger.WithError(err).WithFields(skippedEntryFields(entry.Key)).Warn("Skipping unreadable queued value")
			continue
		}
		if err != nil {
			appErr := errors.NewStoreError("get", entry.Key, err)
			tracing.RecordError(ctx, appErr)
			return nil, appErr
		}
		if !found {
			// acked or expired since the listing
			continue
		}

		var msg models.QueuedMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			skipped++
			s.logger.WithError(err).WithFields(skippedEntryFields(entry.Key)).Warn("Skipping undecodable queued value")
			continue
		}
		messages = append(messages, msg)
	}

	metrics.AddToCounter("messages_pulled_total", float64(len(messages)), nil, "Messages returned by pull")
	metrics.AddToCounter("pull_entries_skipped_total", float64(skipped), nil, "Queued values pull could not read")
	tracing.AddSpanAttributes(ctx, attribute.Int("relay.messages_pulled", len(messages)))

	s.logger.WithFields(logrus.Fields{
		LogFieldOperation: "pull",
		LogFieldLimit:     limit,
		LogFieldListed:    len(entries),
		LogFieldCount:     len(messages),
		LogFieldSkipped:   skipped,
	}).Info("Messages pulled")

	return messages, nil
}

func (s *relayService) Ack(ctx context.Context, messageIDs []string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "relay.ack", attribute.Int("relay.ids_requested", len(messageIDs)))
	defer span.End()

	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}
	if len(wanted) == 0 {
		return 0, nil
	}

	// Ack must reach every outstanding entry, so the listing is unbounded
	entries, err := s.store.List(ctx, kv.ListOptions{Prefix: constants.MessageKeyPrefix})
	if err != nil {
		appErr := errors.NewStoreError("list", "", err)
		tracing.RecordError(ctx, appErr)
		return 0, appErr
	}

	deleted := 0
	for _, entry := range entries {
		var meta models.MessageMetadata
		if err := json.Unmarshal(entry.Metadata, &meta); err != nil {
			s.logger.WithError(err).WithFields(skippedEntryFields(entry.Key)).Warn("Skipping entry with unreadable metadata")
			continue
		}

		if _, ok := wanted[meta.MessageID]; !ok {
			continue
		}

		if err := s.store.Delete(ctx, entry.Key); err != nil {
			appErr := errors.NewStoreError("delete", entry.Key, err).WithContext(LogFieldDeleted, deleted)
			tracing.RecordError(ctx, appErr)
			return deleted, appErr
		}
		deleted++

		s.logger.WithFields(logrus.Fields{
			LogFieldKey:       privacy.MaskKey(entry.Key),
			LogFieldMessageID: privacy.MaskMessageID(meta.MessageID),
		}).Debug("Message acknowledged")
	}

	metrics.AddToCounter("messages_acked_total", float64(deleted), nil, "Messages deleted by ack")
	metrics.SetGauge("ack_last_listed_entries", float64(len(entries)), nil, "Entries listed by the most recent ack")
	tracing.AddSpanAttributes(ctx,
		attribute.Int("relay.entries_listed", len(entries)),
		attribute.Int("relay.messages_deleted", deleted),
	)

	s.logger.WithFields(logrus.Fields{
		LogFieldOperation: "ack",
		LogFieldRequested: len(messageIDs),
		LogFieldListed:    len(entries),
		LogFieldDeleted:   deleted,
	}).Info("Messages acknowledged")

	return deleted, nil
}

// skippedEntryFields labels an entry that could not be read. The arrival
// time comes from the key so the entry can be found without its value.
func skippedEntryFields(key string) logrus.Fields {
	fields := logrus.Fields{LogFieldKey: privacy.MaskKey(key)}
	if receivedAt, messageID, err := ParseMessageKey(key); err == nil {
		fields[LogFieldReceivedAt] = receivedAt
		fields[LogFieldMessageID] = privacy.MaskMessageID(messageID)
	}
	return fields
}

func messageType(event models.WebhookEvent) string {
	if event.Message == nil {
		return ""
	}
	return event.Message.Type
}
