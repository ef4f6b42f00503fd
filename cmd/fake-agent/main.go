// ABOUTME: Minimal fake agent for E2E testing — posts heartbeats over HTTP.
// ABOUTME: Usage: fake-agent [-addr http://localhost:8080] [-id USR0000001]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "backend base URL")
	agentID := flag.String("id", "USR0000001", "agent ID")
	username := flag.String("user", "fake-user", "simulated username")
	key := flag.String("key", "", "heartbeat key (Bearer token)")
	interval := flag.Duration("interval", 30*time.Second, "heartbeat interval")
	flag.Parse()

	if err := run(*addr, *agentID, *username, *key, *interval); err != nil {
		log.Fatal(err)
	}
}

func run(addr, agentID, username, key string, interval time.Duration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	started := time.Now()
	beats := 0

	// First beat immediately, then on the ticker.
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		beats++
		if err := sendHeartbeat(ctx, addr, agentID, username, key, beats, started); err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			log.Printf("heartbeat error: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func sendHeartbeat(ctx context.Context, addr, agentID, username, key string, beats int, started time.Time) error {
	payload := map[string]any{
		"agent_id": agentID,
		"username": username,
		"status":   "active",
		"current_activity": map[string]any{
			"application": "fake-agent",
			"action":      "idle",
		},
		"system_info": map[string]any{
			"platform": runtime.GOOS,
			"hostname": "e2e-test",
		},
		"statistics": map[string]any{
			"heartbeats_sent": beats,
			"uptime_seconds":  int(time.Since(started).Seconds()),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/api/heartbeat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting heartbeat: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, respBody)
	}

	var ack struct {
		Status          string   `json:"status"`
		NextHeartbeatIn int      `json:"next_heartbeat_in"`
		Commands        []string `json:"commands"`
	}
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return fmt.Errorf("decoding ack: %w", err)
	}

	log.Printf("heartbeat %d acked: status=%s next=%ds commands=%v",
		beats, ack.Status, ack.NextHeartbeatIn, ack.Commands)
	return nil
}
