// Command eventgen sends synthetic security events to a Watchtower server,
// a Kafka ingest topic or stdout.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"watchtower/core"
	"watchtower/ingest"

	"github.com/segmentio/kafka-go"
)

const defaultAPIURL = "http://localhost:8081/api/v1/events"

// Config holds the command-line options
type Config struct {
	Mode     string
	Scenario string
	Size     int
	Rate     int
	Duration time.Duration
	Count    int
	Output   string
	Format   string
	APIURL   string
	Token    string
	Brokers  string
	Topic    string
	Seed     int64
}

// Sink delivers one event
type Sink interface {
	Send(ctx context.Context, in core.EventInput) error
	Close() error
}

func main() {
	cfg := parseFlags()

	sink, err := newSink(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = sink.Close() }()

	gen := NewEventGenerator(cfg.Seed)
	ctx := context.Background()

	switch cfg.Mode {
	case "single":
		err = sendBatch(ctx, sink, repeat(gen.Random, cfg.Count), 0)
	case "stream":
		err = stream(ctx, sink, gen, cfg)
	case "scenario":
		var events []core.EventInput
		if events, err = gen.Scenario(cfg.Scenario, cfg.Size); err == nil {
			fmt.Printf("Sending %d events for scenario '%s'...\n", len(events), cfg.Scenario)
			err = sendBatch(ctx, sink, events, 100*time.Millisecond)
		}
	default:
		err = fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Mode, "mode", "single", "Generation mode: single, stream, scenario")
	flag.StringVar(&cfg.Scenario, "scenario", "brute_force", "Scenario name: "+strings.Join(scenarios, ", "))
	flag.IntVar(&cfg.Size, "size", 10, "Attack events per scenario")
	flag.IntVar(&cfg.Rate, "rate", 5, "Events per second (stream mode)")
	flag.DurationVar(&cfg.Duration, "duration", 10*time.Second, "Stream duration")
	flag.IntVar(&cfg.Count, "count", 1, "Number of events (single mode)")
	flag.StringVar(&cfg.Output, "output", "api", "Output: api, kafka, stdout")
	flag.StringVar(&cfg.Format, "format", "json", "Payload encoding: json, msgpack")
	flag.StringVar(&cfg.APIURL, "api-url", defaultAPIURL, "Event ingestion endpoint")
	flag.StringVar(&cfg.Token, "token", os.Getenv("WATCHTOWER_TOKEN"), "Bearer token for the API")
	flag.StringVar(&cfg.Brokers, "brokers", "localhost:9092", "Comma-separated Kafka brokers")
	flag.StringVar(&cfg.Topic, "topic", "security-events", "Kafka topic")
	flag.Int64Var(&cfg.Seed, "seed", 0, "Random seed (0 = time based)")

	flag.Parse()
	return cfg
}

func contentType(format string) string {
	if format == "msgpack" {
		return ingest.ContentTypeMsgpack
	}
	return ingest.ContentTypeJSON
}

func newSink(cfg *Config) (Sink, error) {
	ct := contentType(cfg.Format)
	switch cfg.Output {
	case "api":
		return &apiSink{url: cfg.APIURL, token: cfg.Token, contentType: ct, client: &http.Client{Timeout: 10 * time.Second}}, nil
	case "kafka":
		return &kafkaSink{
			contentType: ct,
			writer: &kafka.Writer{
				Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
				Topic:        cfg.Topic,
				Balancer:     &kafka.Hash{},
				RequiredAcks: kafka.RequireAll,
			},
		}, nil
	case "stdout":
		return stdoutSink{enc: json.NewEncoder(os.Stdout)}, nil
	default:
		return nil, fmt.Errorf("unknown output method: %s", cfg.Output)
	}
}

func repeat(f func() core.EventInput, n int) []core.EventInput {
	out := make([]core.EventInput, n)
	for i := range out {
		out[i] = f()
	}
	return out
}

func sendBatch(ctx context.Context, sink Sink, events []core.EventInput, delay time.Duration) error {
	failed := 0
	for i, in := range events {
		if err := sink.Send(ctx, in); err != nil {
			fmt.Fprintf(os.Stderr, "send %s for %s: %v\n", in.Type, in.UserID, err)
			failed++
		}
		if delay > 0 && i < len(events)-1 {
			time.Sleep(delay)
		}
	}
	fmt.Printf("Sent %d events, %d failed\n", len(events)-failed, failed)
	if failed == len(events) && failed > 0 {
		return fmt.Errorf("every event failed")
	}
	return nil
}

func stream(ctx context.Context, sink Sink, gen *EventGenerator, cfg *Config) error {
	if cfg.Rate <= 0 {
		return fmt.Errorf("rate must be positive")
	}
	ticker := time.NewTicker(time.Second / time.Duration(cfg.Rate))
	defer ticker.Stop()
	timeout := time.After(cfg.Duration)

	fmt.Printf("Starting event stream: %d events/sec for %s\n", cfg.Rate, cfg.Duration)
	count, failed := 0, 0
	for {
		select {
		case <-ticker.C:
			if err := sink.Send(ctx, gen.Random()); err != nil {
				failed++
			}
			count++
			if count%100 == 0 {
				fmt.Printf("Generated %d events (%d failed)...\n", count, failed)
			}
		case <-timeout:
			fmt.Printf("Stream complete. Generated %d events, %d failed.\n", count, failed)
			return nil
		}
	}
}

type apiSink struct {
	url         string
	token       string
	contentType string
	client      *http.Client
}

func (s *apiSink) Send(ctx context.Context, in core.EventInput) error {
	body, err := ingest.EncodeEvent(in, s.contentType)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", s.contentType)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (s *apiSink) Close() error { return nil }

type kafkaSink struct {
	writer      *kafka.Writer
	contentType string
}

func (s *kafkaSink) Send(ctx context.Context, in core.EventInput) error {
	value, err := ingest.EncodeEvent(in, s.contentType)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		// keyed by user so one user's events stay ordered on a partition
		Key:     []byte(in.UserID),
		Value:   value,
		Headers: []kafka.Header{{Key: "Content-Type", Value: []byte(s.contentType)}},
	})
}

func (s *kafkaSink) Close() error { return s.writer.Close() }

type stdoutSink struct {
	enc *json.Encoder
}

func (s stdoutSink) Send(_ context.Context, in core.EventInput) error { return s.enc.Encode(in) }

func (s stdoutSink) Close() error { return nil }
