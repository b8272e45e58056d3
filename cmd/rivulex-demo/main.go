// Command rivulex-demo wires a publisher and a subscriber over a Redis
// Streams connection: a minimal, runnable demonstration of the rivulex
// runtime rather than an application in its own right.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rivulex/rivulex-go/internal/config"
	"github.com/rivulex/rivulex-go/internal/event"
	"github.com/rivulex/rivulex-go/internal/hooks"
	"github.com/rivulex/rivulex-go/internal/publisher"
	"github.com/rivulex/rivulex-go/internal/shutdown"
	"github.com/rivulex/rivulex-go/internal/streamlog"
	"github.com/rivulex/rivulex-go/internal/subscriber"
)

const version = "0.1.0-alpha"

func main() {
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis server address")
	group := flag.String("group", "rivulex-demo", "Consumer group name")
	stream := flag.String("stream", "rivulex-demo", "Stream to publish and subscribe to")
	httpPort := flag.String("http-port", "8080", "HTTP server port")
	publishInterval := flag.Duration("publish-interval", 2*time.Second, "Interval between demo publishes")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("INFO: rivulex-demo v%s starting on :%s", version, *httpPort)
	log.Printf("INFO: Redis address: %s", *redisAddr)
	log.Printf("INFO: group: %s, stream: %s", *group, *stream)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:            *redisAddr,
		PoolSize:        100,
		MinIdleConns:    10,
		ConnMaxLifetime: time.Hour,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("FATAL: Failed to connect to Redis at %s: %v", *redisAddr, err)
	}
	log.Printf("INFO: Connected to Redis at %s", *redisAddr)

	rlog := streamlog.New(redisClient)
	hb := hooks.New(log.Default())
	hb.On(hooks.Confirmed, func(payload interface{}) {
		log.Printf("INFO: confirmed %+v", payload)
	})
	hb.On(hooks.Rejected, func(payload interface{}) {
		log.Printf("WARN: rejected %+v", payload)
	})

	pub, err := publisher.New(rlog, hb, *group, *stream)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize publisher: %v", err)
	}

	subCfg := subscriber.Config{
		Group:      *group,
		Subscriber: config.DefaultSubscriber(),
		Trimmer:    config.DefaultTrimmer(),
		RunTrimmer: true,
	}
	sub := subscriber.New(rlog, hb, subCfg, log.Default())
	sub.Registry().Register(*stream, "demo.tick", func(_ event.Context, e event.Event) error {
		log.Printf("INFO: handling %s/%s attempt=%d", e.Stream, e.ID, e.Attempt)
		return e.Ack()
	})

	if err := sub.Listen(ctx, []string{*stream}); err != nil {
		log.Fatalf("FATAL: Failed to start subscriber: %v", err)
	}
	log.Printf("INFO: subscriber listening on %s as group %s", *stream, *group)

	ticker := time.NewTicker(*publishInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				id, err := pub.Publish(ctx, "", "demo.tick", map[string]interface{}{"at": time.Now().UTC().Format(time.RFC3339)}, nil)
				if err != nil {
					log.Printf("ERROR: publish failed: %v", err)
					continue
				}
				log.Printf("INFO: published %s", id)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"service": "rivulex-demo",
			"version": version,
		})
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", *httpPort),
		Handler: mux,
	}
	go func() {
		log.Printf("INFO: HTTP server listening on :%s", *httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: HTTP server failed: %v", err)
		}
	}()

	coordinator := shutdown.NewCoordinator(25*time.Second, log.Default())
	if err := coordinator.WaitForShutdown(ctx, func(cleanupCtx context.Context) error {
		log.Printf("INFO: Shutting down HTTP server...")
		if err := httpServer.Shutdown(cleanupCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	}, func(_ context.Context) error {
		log.Printf("INFO: Stopping subscriber...")
		sub.Stop()
		return nil
	}, func(_ context.Context) error {
		log.Printf("INFO: Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			return fmt.Errorf("redis close failed: %w", err)
		}
		return nil
	}); err != nil {
		log.Printf("ERROR: Shutdown errors occurred: %v", err)
		os.Exit(1)
	}

	log.Printf("INFO: rivulex-demo stopped cleanly")
}
