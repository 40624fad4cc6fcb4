// Command loadclient drives a running server with pairs of befriended users
// chatting over WebSocket and reports delivery latency.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"securechat/logging"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Stats struct {
	Sent          int64
	Received      int64
	Failed        int64
	TotalLatencyU int64 // microseconds
}

type Config struct {
	BaseURL  string
	Workers  int
	Duration time.Duration
	Rate     int
	Password string
}

var stats Stats

func main() {
	conf := parseFlags()
	logger, err := logging.NewLogger("info")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if conf.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.Duration)
		defer cancel()
	}

	logger.Info("starting load client",
		zap.String("url", conf.BaseURL),
		zap.Int("workers", conf.Workers),
		zap.Int("rate", conf.Rate))

	var wg sync.WaitGroup
	for i := 0; i < conf.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := worker(ctx, id, conf); err != nil && ctx.Err() == nil {
				logger.Warn("worker failed", zap.Int("worker", id), zap.Error(err))
			}
		}(i)
	}

	go printStats(ctx, logger)
	wg.Wait()
	printFinalStats(logger)
}

func parseFlags() Config {
	conf := Config{}
	flag.StringVar(&conf.BaseURL, "url", "http://localhost:8080", "Server base URL")
	flag.IntVar(&conf.Workers, "workers", 10, "Number of chatting pairs")
	flag.DurationVar(&conf.Duration, "duration", time.Minute, "Test duration (0 for infinite)")
	flag.IntVar(&conf.Rate, "rate", 5, "Messages per second per pair")
	flag.StringVar(&conf.Password, "password", "load-test-pass", "Password for generated users")
	flag.Parse()
	if conf.Workers <= 0 {
		conf.Workers = 1
	}
	if conf.Rate <= 0 {
		conf.Rate = 1
	}
	return conf
}

type apiClient struct {
	base   string
	client *http.Client
}

func (a *apiClient) call(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+"/api/v1/"+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (a *apiClient) signup(ctx context.Context, username, password string) (string, error) {
	creds := map[string]string{"username": username, "password": password}
	if err := a.call(ctx, http.MethodPost, "register", "", creds, nil); err != nil {
		return "", err
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := a.call(ctx, http.MethodPost, "login", "", creds, &login); err != nil {
		return "", err
	}
	return login.Token, nil
}

func randomUsername(worker int) string {
	return fmt.Sprintf("%s_%d", strings.ToLower(gofakeit.LetterN(8)), worker)
}

// befriend creates two users, makes them friends and returns their names
// and tokens.
func befriend(ctx context.Context, api *apiClient, worker int, password string) ([2]string, [2]string, error) {
	names := [2]string{randomUsername(worker), randomUsername(worker)}
	var tokens [2]string
	for i, name := range names {
		token, err := api.signup(ctx, name, password)
		if err != nil {
			return names, tokens, err
		}
		tokens[i] = token
	}

	var sent struct {
		ID int64 `json:"id"`
	}
	if err := api.call(ctx, http.MethodPost, "requests", tokens[0], map[string]string{"target": names[1]}, &sent); err != nil {
		return names, tokens, err
	}
	accept := map[string]any{"req_id": sent.ID, "action": "accept"}
	if err := api.call(ctx, http.MethodPost, "handle_request", tokens[1], accept, nil); err != nil {
		return names, tokens, err
	}
	return names, tokens, nil
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func dialChat(ctx context.Context, base, token, target string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/api/v1/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"event": "join_chat", "data": map[string]string{"target": target}}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func worker(ctx context.Context, id int, conf Config) error {
	api := &apiClient{base: conf.BaseURL, client: &http.Client{Timeout: 10 * time.Second}}
	names, tokens, err := befriend(ctx, api, id, conf.Password)
	if err != nil {
		return err
	}

	sender, err := dialChat(ctx, conf.BaseURL, tokens[0], names[1])
	if err != nil {
		return err
	}
	defer sender.Close()
	receiver, err := dialChat(ctx, conf.BaseURL, tokens[1], names[0])
	if err != nil {
		return err
	}
	defer receiver.Close()

	go drain(sender)
	go receive(receiver, names[0])

	ticker := time.NewTicker(time.Second / time.Duration(conf.Rate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stamp := strconv.FormatInt(time.Now().UnixMicro(), 10)
			// the server treats content as an opaque blob
			content := base64.StdEncoding.EncodeToString([]byte(stamp + "|" + gofakeit.Sentence(6)))
			msg := map[string]any{"event": "send_message", "data": map[string]string{"content": content}}
			if err := sender.WriteJSON(msg); err != nil {
				atomic.AddInt64(&stats.Failed, 1)
				return err
			}
			atomic.AddInt64(&stats.Sent, 1)
		}
	}
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func receive(conn *websocket.Conn, from string) {
	for {
		var ev envelope
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		switch ev.Event {
		case "new_message":
			var msg struct {
				Sender  string `json:"sender"`
				Content string `json:"content"`
			}
			if json.Unmarshal(ev.Data, &msg) != nil || msg.Sender != from {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(msg.Content)
			if err != nil {
				continue
			}
			stamp, _, _ := strings.Cut(string(raw), "|")
			sentAt, err := strconv.ParseInt(stamp, 10, 64)
			if err != nil {
				continue
			}
			atomic.AddInt64(&stats.Received, 1)
			atomic.AddInt64(&stats.TotalLatencyU, time.Now().UnixMicro()-sentAt)
		case "error":
			atomic.AddInt64(&stats.Failed, 1)
		}
	}
}

func snapshot() (sent, received, failed int64, avg time.Duration) {
	sent = atomic.LoadInt64(&stats.Sent)
	received = atomic.LoadInt64(&stats.Received)
	failed = atomic.LoadInt64(&stats.Failed)
	if received > 0 {
		avg = time.Duration(atomic.LoadInt64(&stats.TotalLatencyU)/received) * time.Microsecond
	}
	return
}

func printStats(ctx context.Context, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, received, failed, avg := snapshot()
			logger.Info("stats",
				zap.Int64("sent", sent),
				zap.Int64("received", received),
				zap.Int64("failed", failed),
				zap.Duration("avg_latency", avg))
		}
	}
}

func printFinalStats(logger *zap.Logger) {
	sent, received, failed, avg := snapshot()
	var deliveryRate float64
	if sent > 0 {
		deliveryRate = float64(received) / float64(sent) * 100
	}
	logger.Info("final statistics",
		zap.Int64("sent", sent),
		zap.Int64("received", received),
		zap.Int64("failed", failed),
		zap.Float64("delivery_rate_pct", deliveryRate),
		zap.Duration("avg_latency", avg))
}
