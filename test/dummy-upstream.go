package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stand-in for the Capital.com REST API. Tokens expire after -validity so
// re-login paths can be exercised by hand.
type fakeCapital struct {
	mu       sync.Mutex
	apiKey   string
	validity time.Duration
	sessions map[string]time.Time // CST -> expiry
}

func main() {
	addr := flag.String("addr", ":3001", "listen address")
	apiKey := flag.String("api-key", "dummy-key", "accepted X-CAP-API-KEY")
	validity := flag.Duration("validity", 10*time.Minute, "session token lifetime")
	flag.Parse()

	f := &fakeCapital{
		apiKey:   *apiKey,
		validity: *validity,
		sessions: make(map[string]time.Time),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "OK"})
	})
	mux.HandleFunc("/api/v1/time", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"serverTime": time.Now().UnixMilli()})
	})
	mux.HandleFunc("/api/v1/session", f.session)
	mux.HandleFunc("/api/v1/", f.echo)

	log.Printf("Dummy Capital upstream starting on %s (base url http://localhost%s/api/v1)", *addr, *addr)
	if err := http.ListenAndServe(*addr, logRequests(mux)); err != nil {
		log.Fatal(err)
	}
}

func (f *fakeCapital) session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if r.Header.Get("X-CAP-API-KEY") != f.apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"errorCode": "error.invalid.api.key"})
			return
		}

		var body struct {
			Identifier string `json:"identifier"`
			Password   string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Identifier == "" || body.Password == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errorCode": "error.invalid.details"})
			return
		}

		cst := f.issue()
		w.Header().Set("CST", cst)
		w.Header().Set("X-SECURITY-TOKEN", uuid.NewString())
		writeJSON(w, http.StatusOK, map[string]any{
			"accountType":      "CFD",
			"currentAccountId": "dummy-account",
		})
	case http.MethodPut:
		if !f.authorized(w, r) {
			return
		}
		// Switching account rotates the tokens
		f.revoke(r.Header.Get("CST"))
		w.Header().Set("CST", f.issue())
		w.Header().Set("X-SECURITY-TOKEN", uuid.NewString())
		writeJSON(w, http.StatusOK, map[string]any{"trailingStopsEnabled": false})
	case http.MethodDelete:
		if !f.authorized(w, r) {
			return
		}
		f.revoke(r.Header.Get("CST"))
		writeJSON(w, http.StatusOK, map[string]any{"status": "SUCCESS"})
	default:
		if !f.authorized(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"currentAccountId": "dummy-account"})
	}
}

// Echoes any other authenticated call
func (f *fakeCapital) echo(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}

	var body any
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"query":  r.URL.Query(),
		"body":   body,
	})
}

func (f *fakeCapital) issue() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	cst := uuid.NewString()
	f.sessions[cst] = time.Now().Add(f.validity)
	return cst
}

func (f *fakeCapital) revoke(cst string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, cst)
}

func (f *fakeCapital) authorized(w http.ResponseWriter, r *http.Request) bool {
	f.mu.Lock()
	expiry, ok := f.sessions[r.Header.Get("CST")]
	f.mu.Unlock()

	if !ok || r.Header.Get("X-SECURITY-TOKEN") == "" || time.Now().After(expiry) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"errorCode": "error.invalid.session.token"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Received request: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
