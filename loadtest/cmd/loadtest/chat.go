package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dressly/chat-service/loadtest/client"
	"github.com/dressly/chat-service/loadtest/stats"
)

// runChat implements the conversation lifecycle load test. It spins up pairs
// of users, creates a direct conversation for each pair over the REST API,
// connects both users over WebSocket, and has them exchange messages while
// measuring the round-trip latency from send to the sender's own room
// broadcast.
//
// The generated user IDs must already exist in the users table; seed them
// before running this scenario.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	wsURL := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiURL := fs.String("api", "http://localhost:8080", "REST API base URL")
	secret := fs.String("secret", "dev-secret", "JWT signing secret (must match the server)")
	metricsURL := fs.String("metrics", "", "Prometheus metrics URL to scrape during the test (optional)")
	pairs := fs.Int("pairs", 50, "Number of conversation pairs")
	messages := fs.Int("messages", 10, "Messages each side sends")
	msgInterval := fs.Duration("interval", 1200*time.Millisecond, "Delay between messages from one sender")
	userPrefix := fs.String("user-prefix", "loadtest-user-", "Prefix for generated user IDs (must exist in the users table)")
	fs.Parse(args)

	fmt.Printf("Chat test: %d pairs, %d messages each side, interval=%s\n",
		*pairs, *messages, *msgInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pair int) {
			defer wg.Done()
			cfg := pairConfig{
				wsURL:     *wsURL,
				apiURL:    *apiURL,
				secret:    *secret,
				userA:     fmt.Sprintf("%s%d-a", *userPrefix, pair),
				userB:     fmt.Sprintf("%s%d-b", *userPrefix, pair),
				messages:  *messages,
				interval:  *msgInterval,
				collector: collector,
			}
			if err := runPair(ctx, cfg); err != nil {
				collector.AddError()
				fmt.Printf("  pair %d: %v\n", pair, err)
			}
		}(i)
	}

	wg.Wait()
	collector.Report()
}

type pairConfig struct {
	wsURL     string
	apiURL    string
	secret    string
	userA     string
	userB     string
	messages  int
	interval  time.Duration
	collector *stats.Collector
}

// runPair drives one conversation: REST conversation setup, two WebSocket
// connections, and an alternating message exchange.
func runPair(ctx context.Context, cfg pairConfig) error {
	tokenA, err := client.MintToken(cfg.secret, cfg.userA, time.Hour)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	tokenB, err := client.MintToken(cfg.secret, cfg.userB, time.Hour)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	convID, err := createConversation(ctx, cfg.apiURL, tokenA, cfg.userB)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	a, err := connectUser(ctx, cfg.wsURL, tokenA, cfg.collector)
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.userA, err)
	}
	defer a.Close()

	b, err := connectUser(ctx, cfg.wsURL, tokenB, cfg.collector)
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.userB, err)
	}
	defer b.Close()

	// Each sender measures latency against its own room broadcast, so a
	// send is complete once the server echoes the new-message event back.
	echoA := watchEchoes(a, cfg.userA)
	echoB := watchEchoes(b, cfg.userB)

	for i := 0; i < cfg.messages; i++ {
		if err := exchange(ctx, a, convID, fmt.Sprintf("hello from a #%d", i), echoA, cfg.collector); err != nil {
			return err
		}
		if err := exchange(ctx, b, convID, fmt.Sprintf("hello from b #%d", i), echoB, cfg.collector); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.interval):
		}
	}
	return nil
}

// connectUser dials the WebSocket endpoint and waits for the greeting.
func connectUser(ctx context.Context, wsURL, token string, collector *stats.Collector) (*client.Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.New(connCtx, wsURL, token)
	if err != nil {
		return nil, err
	}
	if err := c.WaitForReady(connCtx); err != nil {
		c.Close()
		return nil, err
	}
	collector.AddConnect(c.GetMetrics().ConnectLatency)
	return c, nil
}

// watchEchoes returns a channel of message contents that the server has
// broadcast back to this sender. Rejections surface as message-error events
// and are delivered as an empty string so the sender does not hang.
func watchEchoes(c *client.Client, userID string) <-chan string {
	echoes := make(chan string, 16)
	c.On(client.TypeNewMessage, func(raw json.RawMessage) {
		var evt struct {
			Message struct {
				SenderID string `json:"senderId"`
				Content  string `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		if evt.Message.SenderID != userID {
			return
		}
		select {
		case echoes <- evt.Message.Content:
		default:
		}
	})
	c.On(client.TypeMessageError, func(json.RawMessage) {
		select {
		case echoes <- "":
		default:
		}
	})
	return echoes
}

// exchange sends one message and waits for its echo, recording latency.
func exchange(ctx context.Context, c *client.Client, convID, content string, echoes <-chan string, collector *stats.Collector) error {
	start := time.Now()
	if err := c.SendMessage(convID, content); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	collector.AddSent()

	timeout := time.NewTimer(10 * time.Second)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timeout.C:
			return fmt.Errorf("timed out waiting for echo of %q", content)
		case got := <-echoes:
			if got == "" {
				collector.AddRejected()
				return nil
			}
			if got == content {
				collector.AddMsgLatency(time.Since(start))
				return nil
			}
			// Echo of an earlier message; keep waiting.
		}
	}
}

// createConversation creates (or looks up) the direct conversation between
// the authenticated caller and otherUserID, returning its ID.
func createConversation(ctx context.Context, apiURL, token, otherUserID string) (string, error) {
	body, err := json.Marshal(map[string]string{"participantId": otherUserID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		apiURL+"/chat/conversations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var conv struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", err
	}
	if conv.ID == "" {
		return "", fmt.Errorf("response missing conversation id")
	}
	return conv.ID, nil
}
