package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"go.uber.org/zap"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/repo"
)

const (
	hookPollInterval = 2 * time.Second
	hookTimeout      = 5 * time.Second
	hookBatchSize    = 100
	hookAttempts     = 3
	hookRetryDelay   = 200 * time.Millisecond
	signatureHeader  = "X-Taskline-Signature"
	eventTypeHeader  = "X-Taskline-Event"
	deliveryIDHeader = "X-Taskline-Delivery"
	signatureScheme  = "sha256="
)

// WebhookDispatcher forwards new audit events to configured endpoints. Each
// hook keeps its own cursor, starting at the newest event when first seen.
// A delivery that still fails after retries stops that hook's batch and is
// picked up again on the next tick.
type WebhookDispatcher struct {
	Repo       repo.Repo
	Webhooks   []config.Webhook
	Interval   time.Duration
	RetryDelay time.Duration
	Logger     *zap.Logger

	mu      sync.Mutex
	cursors map[string]int64
}

// Run polls until ctx is done. It returns immediately when no hook is enabled.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if d.Repo.DB == nil || len(d.active()) == 0 {
		return
	}
	interval := d.Interval
	if interval <= 0 {
		interval = hookPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll runs one delivery pass over every enabled hook.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for _, hook := range d.active() {
		d.drain(ctx, hook)
	}
}

func (d *WebhookDispatcher) active() []config.Webhook {
	var out []config.Webhook
	for _, h := range d.Webhooks {
		if h.IsEnabled() && strings.TrimSpace(h.URL) != "" {
			out = append(out, h)
		}
	}
	return out
}

func (d *WebhookDispatcher) log() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func hookKey(h config.Webhook) string {
	if h.ID != "" {
		return h.ID
	}
	return h.URL
}

func (d *WebhookDispatcher) drain(ctx context.Context, hook config.Webhook) {
	key := hookKey(hook)
	log := d.log().With(zap.String("webhook", key))
	after, err := d.cursor(ctx, key)
	if err != nil {
		log.Warn("webhook cursor init failed", zap.Error(err))
		return
	}
	batch, err := d.Repo.EventsAfter(ctx, hookBatchSize, after, repo.EventFilter{})
	if err != nil {
		log.Warn("webhook fetch events failed", zap.Error(err))
		return
	}
	for _, evt := range batch {
		if subscribed(hook.Events, evt.Type) {
			if err := d.deliver(ctx, hook, evt); err != nil {
				log.Warn("webhook delivery failed", zap.Int64("event_id", evt.ID), zap.Error(err))
				return
			}
			log.Debug("webhook delivered", zap.Int64("event_id", evt.ID), zap.String("type", evt.Type))
		}
		d.advance(key, evt.ID)
	}
}

// subscribed reports whether typ matches one of the hook's patterns. An
// empty list subscribes to everything; patterns use path.Match globs, so
// "work_item.*" covers both patched and failed.
func subscribed(patterns []string, typ string) bool {
	filtered := false
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		filtered = true
		if ok, _ := path.Match(p, typ); ok {
			return true
		}
	}
	return !filtered
}

func (d *WebhookDispatcher) cursor(ctx context.Context, key string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[key]; ok {
		return cur, nil
	}
	cur, err := d.Repo.LatestEventID(ctx)
	if err != nil {
		return 0, err
	}
	if d.cursors == nil {
		d.cursors = map[string]int64{}
	}
	d.cursors[key] = cur
	return cur, nil
}

func (d *WebhookDispatcher) advance(key string, id int64) {
	d.mu.Lock()
	d.cursors[key] = id
	d.mu.Unlock()
}

// sign returns the hex HMAC-SHA256 of body keyed by secret.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signatureScheme + hex.EncodeToString(mac.Sum(nil))
}

type deliveryError struct {
	status int
	body   string
}

func (e *deliveryError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("status %d", e.status)
	}
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// deliver posts evt, retrying transport failures and 5xx answers. A 4xx
// answer is final.
func (d *WebhookDispatcher) deliver(ctx context.Context, hook config.Webhook, evt domain.Event) error {
	data, err := json.Marshal(eventResponse(evt))
	if err != nil {
		return err
	}
	timeout := hookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := &http.Client{Timeout: timeout}
	delay := d.RetryDelay
	if delay <= 0 {
		delay = hookRetryDelay
	}
	r := retry.New[int](retry.Config{
		MaxAttempts:   hookAttempts,
		InitialDelay:  delay,
		BackoffPolicy: retry.BackoffExponential,
	})
	status, err := r.Do(ctx, func(ctx context.Context) (int, error) {
		return post(ctx, client, hook, evt, data)
	})
	if err != nil {
		return err
	}
	if status >= 300 {
		return &deliveryError{status: status}
	}
	return nil
}

func post(ctx context.Context, client *http.Client, hook config.Webhook, evt domain.Event, data []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventTypeHeader, evt.Type)
	req.Header.Set(deliveryIDHeader, strconv.FormatInt(evt.ID, 10))
	if secret := strings.TrimSpace(hook.Secret); secret != "" {
		req.Header.Set(signatureHeader, sign(secret, data))
	}
	res, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return res.StatusCode, &deliveryError{status: res.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return res.StatusCode, nil
}
