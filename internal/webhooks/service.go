package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/archive"
)

// Headers set on every delivery.
const (
	SignatureHeader = "X-Chainledger-Signature"
	EventHeader     = "X-Chainledger-Event"
)

// ErrUnknownEvent is returned when subscribing to an event type the ledger
// never emits.
var ErrUnknownEvent = errors.New("unknown event type")

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Service manages subscriptions and fans archival events out to them.
type Service struct {
	repo       Repository
	ledgerID   string
	httpClient *http.Client
	// delays[i] is waited before attempt i+1; its length is the attempt count.
	delays    []time.Duration
	onMetrics MetricsRecorder
	logger    *zap.Logger

	wg sync.WaitGroup

	mu sync.Mutex
	// blockedAt is the window start last reported as blocked, so a shard that
	// stays down is reported once rather than on every archival pass.
	blockedAt *uint64
}

// NewService creates a Service for the given ledger.
func NewService(repo Repository, ledgerID string, logger *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		ledgerID:   ledgerID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, 1 * time.Second, 5 * time.Second, 25 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// SetRetryDelays replaces the backoff schedule. The first entry is waited
// before the first attempt.
func (s *Service) SetRetryDelays(delays ...time.Duration) {
	if len(delays) > 0 {
		s.delays = delays
	}
}

// Subscribe creates a subscription with a generated HMAC secret.
func (s *Service) Subscribe(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error) {
	for _, e := range req.Events {
		if !knownEvents[e] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e)
		}
	}
	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	sub := &Subscription{URL: req.URL, Events: req.Events, Secret: secret}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// Unsubscribe deletes a subscription.
func (s *Service) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// List returns every subscription.
func (s *Service) List(ctx context.Context) ([]*Subscription, error) {
	return s.repo.List(ctx)
}

// Deliveries returns the recent delivery attempts of a subscription.
func (s *Service) Deliveries(ctx context.Context, id uuid.UUID, limit int) ([]*Delivery, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Deliveries(ctx, id, limit)
}

// ArchiveHook turns ledger archival callbacks into events. A blocked window
// is reported once until archival makes progress again.
func (s *Service) ArchiveHook(rec archive.Record, err error) {
	s.mu.Lock()
	if err != nil {
		if s.blockedAt != nil && *s.blockedAt == rec.Start {
			s.mu.Unlock()
			return
		}
		start := rec.Start
		s.blockedAt = &start
	} else {
		s.blockedAt = nil
	}
	s.mu.Unlock()

	payload := map[string]string{
		"start":  strconv.FormatUint(rec.Start, 10),
		"length": strconv.FormatUint(rec.Length, 10),
	}
	if err != nil {
		payload["error"] = err.Error()
		s.Dispatch(context.Background(), EventArchivalBlocked, payload)
		return
	}
	payload["shard"] = string(rec.Shard)
	s.Dispatch(context.Background(), EventWindowArchived, payload)
}

// Dispatch fans an event out to all matching subscriptions. Deliveries run
// in the background and outlive ctx's cancellation.
func (s *Service) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	ctx = context.WithoutCancel(ctx)
	subs, err := s.repo.ListByEvent(ctx, eventType)
	if err != nil {
		s.logger.Error("webhook: list subscribers", zap.Error(err))
		return
	}

	event := Event{
		ID:        uuid.New(),
		Type:      eventType,
		LedgerID:  s.ledgerID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	for _, sub := range subs {
		s.wg.Add(1)
		go func(sub *Subscription) {
			defer s.wg.Done()
			s.deliver(ctx, sub, event)
		}(sub)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// deliver sends the event to a single subscription with retries.
func (s *Service) deliver(ctx context.Context, sub *Subscription, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}
	signature := signPayload(body, sub.Secret)

	for attempt := 1; attempt <= len(s.delays); attempt++ {
		if d := s.delays[attempt-1]; d > 0 {
			time.Sleep(d)
		}

		success, statusCode, errMsg := s.doDelivery(ctx, sub.URL, event.Type, body, signature)

		delivery := &Delivery{
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			EventType:      event.Type,
			StatusCode:     statusCode,
			Attempt:        attempt,
			Success:        success,
			ErrorMessage:   errMsg,
		}
		if recordErr := s.repo.RecordDelivery(ctx, delivery); recordErr != nil {
			s.logger.Warn("webhook: record delivery", zap.Error(recordErr))
		}
		if s.onMetrics != nil {
			s.onMetrics(success)
		}
		if success {
			return
		}

		s.logger.Warn("webhook: delivery failed",
			zap.String("url", sub.URL),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

func (s *Service) doDelivery(ctx context.Context, url, eventType string, body []byte, signature string) (bool, int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set(EventHeader, eventType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

// VerifySignature reports whether signature is the HMAC-SHA256 of body
// under secret, in the form sent in SignatureHeader.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(signPayload(body, secret)), []byte(signature))
}

func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
