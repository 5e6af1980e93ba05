package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

var requestCount atomic.Int64

// A stand-in for a browser push service during local development. The
// different paths exercise each outcome the dispatch engine classifies.
func main() {
	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	// Accepting endpoint — always returns 201 like a real push service
	http.HandleFunc("/push/ok/", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 201)
		w.WriteHeader(http.StatusCreated)
	})

	// Expired endpoint — 410 Gone, subscriber should be deactivated
	http.HandleFunc("/push/gone/", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 410)
		w.WriteHeader(http.StatusGone)
	})

	// Rate-limited endpoint — always 429
	http.HandleFunc("/push/throttle/", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 429)
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	// Slow endpoint — delays 3 seconds before accepting
	http.HandleFunc("/push/slow/", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		time.Sleep(3 * time.Second)
		logRequest(r, count, 201)
		w.WriteHeader(http.StatusCreated)
	})

	// Stats endpoint — shows request count
	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"total_requests": requestCount.Load()})
	})

	log.Printf("Mock push service starting on :%s", port)
	log.Printf("  POST /push/ok/...       -> 201 Created")
	log.Printf("  POST /push/gone/...     -> 410 Gone")
	log.Printf("  POST /push/throttle/... -> 429 Too Many Requests")
	log.Printf("  POST /push/slow/...     -> 201 Created (3s delay)")
	log.Printf("  GET  /stats             -> request count")

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func logRequest(r *http.Request, count int64, status int) {
	fmt.Printf("[#%d] %s %s -> %d | ttl=%s auth=%s\n",
		count,
		r.Method,
		r.URL.Path,
		status,
		r.Header.Get("TTL"),
		truncate(r.Header.Get("Authorization"), 24),
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
