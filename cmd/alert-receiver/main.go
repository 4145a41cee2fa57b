// Command alert-receiver is a development endpoint for ALERT_WEBHOOK_URL.
// It verifies each delivery's signature, logs the alert and keeps the most
// recent ones for inspection at /stats.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/domain"
	"github.com/djlord-it/ynab-sync/internal/monitor"
)

const maxStored = 50

type delivery struct {
	ReceivedAt string       `json:"received_at"`
	DeliveryID string       `json:"delivery_id"`
	Verified   bool         `json:"verified"`
	Alert      domain.Alert `json:"alert"`
}

type stats struct {
	Count      int64      `json:"count"`
	Rejected   int64      `json:"rejected"`
	Deliveries []delivery `json:"deliveries"`
	Since      string     `json:"since"`
}

type receiver struct {
	secret string

	mu         sync.Mutex
	count      int64
	rejected   int64
	deliveries []delivery
	since      time.Time
}

func newReceiver(secret string) *receiver {
	return &receiver{secret: secret, since: time.Now().UTC()}
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", rc.hook)
	mux.HandleFunc("/stats", rc.stats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rc.mu.Lock()
		rc.count, rc.rejected = 0, 0
		rc.deliveries = nil
		rc.since = time.Now().UTC()
		rc.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})
	return mux
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	verified := rc.secret != "" && monitor.VerifySignature(rc.secret, body, r.Header.Get("X-YnabSync-Signature"))
	if rc.secret != "" && !verified {
		rc.mu.Lock()
		rc.rejected++
		rc.mu.Unlock()
		log.Warn().Str("component", "alert-receiver").Str("delivery_id", r.Header.Get("X-YnabSync-Delivery-ID")).
			Msg("signature mismatch")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var alert domain.Alert
	if err := json.Unmarshal(body, &alert); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	d := delivery{
		ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
		DeliveryID: r.Header.Get("X-YnabSync-Delivery-ID"),
		Verified:   verified,
		Alert:      alert,
	}

	rc.mu.Lock()
	rc.count++
	rc.deliveries = append(rc.deliveries, d)
	if len(rc.deliveries) > maxStored {
		rc.deliveries = rc.deliveries[len(rc.deliveries)-maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	log.Info().Str("component", "alert-receiver").Int64("n", current).Str("alarm", alert.Alarm).
		Str("function", alert.Function).Bool("verified", verified).Msg(alert.Reason)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:      rc.count,
		Rejected:   rc.rejected,
		Deliveries: append([]delivery(nil), rc.deliveries...),
		Since:      rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	secret := os.Getenv("ALERT_WEBHOOK_SECRET")
	if secret == "" {
		log.Warn().Str("component", "alert-receiver").Msg("ALERT_WEBHOOK_SECRET not set; signatures are not checked")
	}

	log.Info().Str("component", "alert-receiver").Str("addr", addr).Msg("listening")
	if err := http.ListenAndServe(addr, newReceiver(secret).routes()); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
