// Package main runs a demo: it starts a local receiver that verifies signatures,
// registers it as a webhook, follows the delivery stream and sends a test event.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"hookline/internal/webhooks"
)

const (
	tenant = "t_demo"
	secret = "demo-secret-0123456789"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Receiver
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal(err)
	}
	go func() {
		_ = http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			ok := webhooks.VerifyHMAC(secret, body, r.Header.Get("X-Signature"))
			log.Printf("receiver <- %s attempt=%s signature_ok=%v body=%s",
				r.Header.Get("X-Event-Type"), r.Header.Get("X-Delivery-Attempt"), ok, body)
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
	}()

	// Register webhook
	reqBody, _ := json.Marshal(map[string]any{
		"url":    "http://" + ln.Addr().String() + "/hook",
		"events": []string{"*"},
		"secret": secret,
	})
	resp, err := post(base+"/v1/webhooks", reqBody)
	if err != nil {
		log.Fatal(err)
	}
	var wh struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wh); err != nil || wh.ID == "" {
		log.Fatalf("create webhook: status=%d err=%v", resp.StatusCode, err)
	}
	_ = resp.Body.Close()
	log.Printf("Webhook ID: %s", wh.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/webhooks/" + wh.ID + "/deliveries/stream"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", tenant)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m json.RawMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s", m)
		}
	}()

	// Trigger a test delivery and an event
	time.Sleep(200 * time.Millisecond)
	if resp, err := post(base+"/v1/webhooks/"+wh.ID+"/test", nil); err == nil {
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		log.Printf("test -> %d %s", resp.StatusCode, b)
	}
	if resp, err := post(base+"/v1/events", []byte(`{"type":"demo.ping","data":{"hello":"world"}}`)); err == nil {
		_ = resp.Body.Close()
	}

	// Wait briefly to receive a few messages
	select {
	case <-time.After(3 * time.Second):
	case <-done:
	}
}

func post(u string, body []byte) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", tenant)
	return http.DefaultClient.Do(req)
}
