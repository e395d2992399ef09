// Command consumer reads ride events from Kafka and forwards notification
// events to the push gateway, so drivers without an open websocket still
// get them on their phone.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total ride event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total undecodable messages received",
	})
	pushDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_push_delivered_total",
		Help: "Notifications delivered to the push gateway",
	})
	pushErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_push_errors_total",
		Help: "Notifications that failed after all retries",
	})
	pushDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_push_duplicates_total",
		Help: "Redelivered notifications skipped",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, pushDelivered, pushErrors, pushDuplicates)
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger("ride-dispatch-consumer", getenv("LOG_LEVEL", "info"))

	var brokers []string
	for _, b := range strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",") {
		if s := strings.TrimSpace(b); s != "" {
			brokers = append(brokers, s)
		}
	}
	topic := getenv("KAFKA_TOPIC", "ride-events")
	group := getenv("KAFKA_GROUP", "ride-dispatch-push")

	endpoint := os.Getenv("PUSH_ENDPOINT")
	if endpoint == "" {
		logger.Error("PUSH_ENDPOINT is required")
		os.Exit(1)
	}
	push := dispatch.NewPushClient(endpoint, os.Getenv("PUSH_KEY"))

	var dedup Deduper = noDedup{}
	var rc *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rc = redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
		dedup = &redisDeduper{c: rc, ttl: 24 * time.Hour}
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if rc != nil {
				if err := rc.Ping(r.Context()).Err(); err != nil {
					http.Error(w, "redis not ready", 503)
					return
				}
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		if rc != nil {
			_ = rc.Close()
		}
	}()

	logger.Info("consumer listening", "topic", topic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		e, err := events.Decode(m)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "err", err)
			continue
		}
		if e.Type != events.NotificationCreated || e.Notification == nil {
			continue
		}
		n := *e.Notification
		switch err := handleNotification(ctx, push, dedup, n, 3, 200*time.Millisecond); {
		case err == errDuplicate:
			pushDuplicates.Inc()
		case err != nil:
			pushErrors.Inc()
			logger.Error("push delivery failed", "notification_id", n.ID, "user_id", n.UserID, "err", err)
		default:
			pushDelivered.Inc()
		}
	}
}

// Deduper remembers delivered notification ids across consumer restarts,
// since Kafka redelivers after a rebalance.
type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type noDedup struct{}

func (noDedup) Claim(context.Context, string) (bool, error) { return true, nil }
func (noDedup) Release(context.Context, string) error       { return nil }

type redisDeduper struct {
	c   *redis.Client
	ttl time.Duration
}

func (d *redisDeduper) key(id string) string { return "push:delivered:" + id }

func (d *redisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	return d.c.SetNX(ctx, d.key(id), 1, d.ttl).Result()
}

func (d *redisDeduper) Release(ctx context.Context, id string) error {
	return d.c.Del(ctx, d.key(id)).Err()
}

var errDuplicate = fmt.Errorf("notification already delivered")

// handleNotification claims n, then delivers it with retries. A failed
// delivery releases the claim so a later redelivery can try again.
func handleNotification(ctx context.Context, push dispatch.Deliverer, dedup Deduper, n models.Notification, attempts int, delay time.Duration) error {
	ok, err := dedup.Claim(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("claim %s: %w", n.ID, err)
	}
	if !ok {
		return errDuplicate
	}
	if err := deliverWithRetry(ctx, push, n, attempts, delay); err != nil {
		_ = dedup.Release(ctx, n.ID)
		return err
	}
	return nil
}

// deliverWithRetry calls Deliver up to attempts times, doubling delay
// between tries.
func deliverWithRetry(ctx context.Context, push dispatch.Deliverer, n models.Notification, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = push.Deliver(ctx, n); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
