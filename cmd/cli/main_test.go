package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/bloodlink/internal/model"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "bloodlink")
}

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if bearer() != "" {
		t.Fatalf("bearer must be empty without a token")
	}
	tf := tokenFile{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Minute), UserID: "u1", Role: "donor"}
	if err := saveToken(tf); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	got, err := loadToken()
	if err != nil || got.AccessToken != "tok" || got.Role != "donor" {
		t.Fatalf("loadToken: %+v err=%v", got, err)
	}
	if bearer() != "tok" {
		t.Fatalf("bearer mismatch")
	}
	fi, err := os.Stat(tokenPath())
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("token file must be 0600: %v %v", fi, err)
	}

	tf.ExpiresAt = time.Now().Add(-time.Minute)
	if err := saveToken(tf); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	buf := captureStdout(t)
	printJSON(map[string]any{"a": 1})

	var m map[string]any
	if json.Unmarshal(buf.Bytes(), &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Fatalf("printJSON should indent")
	}
}

func Test_bearerCreds_Metadata(t *testing.T) {
	t.Parallel()

	b := bearerCreds{token: "T", secure: true}
	md, err := b.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if md["authorization"] != "Bearer T" {
		t.Fatalf("auth header mismatch: %v", md)
	}
	if !b.RequireTransportSecurity() {
		t.Fatalf("TLS connections must require transport security")
	}
	if (bearerCreds{token: "T"}).RequireTransportSecurity() {
		t.Fatalf("plaintext dev connections must not require TLS")
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	creds, err := loadTLS("", true)
	if err != nil || creds == nil {
		t.Fatalf("insecure: %v %v", creds, err)
	}
	creds, err = loadTLS("", false)
	if err != nil || creds == nil {
		t.Fatalf("default tls: %v %v", creds, err)
	}
	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	creds, err = loadTLS(tmp, false)
	if err == nil || creds != nil {
		t.Fatalf("bad CA should error, got creds=%v err=%v", creds, err)
	}
}

func Test_describe(t *testing.T) {
	t.Parallel()

	msg, remedy := describe(status.Error(codes.PermissionDenied, "AUTHORIZATION_ERROR:SOCIAL_CHECK_REQUIRED: denied"))
	if msg != "AUTHORIZATION_ERROR (SOCIAL_CHECK_REQUIRED): denied" {
		t.Fatalf("msg=%q", msg)
	}
	if !strings.Contains(remedy, "social profile") {
		t.Fatalf("remedy=%q", remedy)
	}

	msg, remedy = describe(status.Error(codes.NotFound, "NOT_FOUND: request BL-X"))
	if msg != "NOT_FOUND: request BL-X" || remedy != "" {
		t.Fatalf("msg=%q remedy=%q", msg, remedy)
	}

	msg, _ = describe(status.Error(codes.Unavailable, "connection refused"))
	if !strings.Contains(msg, "Unavailable") {
		t.Fatalf("msg=%q", msg)
	}

	msg, _ = describe(errors.New("need -u and -p"))
	if msg != "need -u and -p" {
		t.Fatalf("msg=%q", msg)
	}
}

func Test_parseWhen(t *testing.T) {
	t.Parallel()

	if got, err := parseWhen("2026-03-01T10:00:00Z"); err != nil || !got.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("rfc3339: %v %v", got, err)
	}
	if got, err := parseWhen("2026-03-01"); err != nil || got.Day() != 1 || got.Location() != time.Local {
		t.Fatalf("date: %v %v", got, err)
	}
	if got, err := parseWhen("2026-03-01 18:30"); err != nil || got.Hour() != 18 || got.Minute() != 30 {
		t.Fatalf("date time: %v %v", got, err)
	}
	if _, err := parseWhen("tomorrow"); err == nil {
		t.Fatalf("want error")
	}
}

func Test_commandsRegistered(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"register", "login", "submit", "status", "match", "eligibility", "reveal", "social",
		"profile", "availability", "verify", "confirm", "reject", "set-status", "verify-account",
		"record-donation", "rate", "event-create", "event-active", "events", "impact", "watch"} {
		if commands[name] == nil {
			t.Fatalf("command %q missing", name)
		}
	}
}

func Test_requiredFlags(t *testing.T) {
	t.Parallel()

	var c conn
	cases := map[string][]string{
		"register":     {"-u", "x"},
		"status":       nil,
		"match":        nil,
		"confirm":      nil,
		"reveal":       nil,
		"availability": {"-on", "-off"},
		"event-create": {"-title", "x"},
	}
	for name, args := range cases {
		if err := commands[name](c, args); err == nil {
			t.Fatalf("%s: want missing flag error", name)
		}
	}
}

// feedServer sends a snapshot and one event, then waits for the client to leave.
func feedServer(t *testing.T, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	var up websocket.Upgrader
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization") + "|" + r.URL.Query().Get("tables")
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id := "6f1c4b8e-4c4a-4d1a-9f52-3b2f0c1d2e3f"
		snap := model.Snapshot{AsOfSeq: 1, Requests: []model.BloodRequest{}, Donors: []model.DonorProfile{},
			Verifications: []model.VerificationProof{}, Events: []model.DonationEvent{}}
		_ = conn.WriteJSON(model.FeedFrame{Snapshot: &snap})
		row, _ := json.Marshal(map[string]any{"id": id, "status": "PENDING", "urgency": "CRITICAL"})
		_ = conn.WriteJSON(model.FeedFrame{Event: &model.ChangeEvent{Seq: 2, Table: model.TableRequests, Op: model.OpInsert, New: row}})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

type syncBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuf) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func Test_watch_OverWebSocket(t *testing.T) {
	gotAuth := make(chan string, 4)
	srv := feedServer(t, gotAuth)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuf{}
	src := wsSource{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed", token: "tok", tables: []string{"requests"}}

	done := make(chan error, 1)
	go func() { done <- watch(ctx, src, out) }()

	deadline := time.After(5 * time.Second)
	for !strings.Contains(out.String(), "pending=1 critical=1") {
		select {
		case <-deadline:
			t.Fatalf("no stats line, got %q", out.String())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := <-gotAuth; got != "Bearer tok|requests" {
		t.Fatalf("handshake=%q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not stop")
	}
}

func Test_wsSource_DialError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "authentication required", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := wsSource{url: "ws" + strings.TrimPrefix(srv.URL, "http")}.Open(context.Background())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("want 401 dial error, got %v", err)
	}
}

func Test_statsLine(t *testing.T) {
	t.Parallel()
	got := statsLine(model.Stats{PendingRequests: 2, LivesSaved: 5})
	if !strings.Contains(got, "pending=2") || !strings.Contains(got, "lives_saved=5") {
		t.Fatalf("statsLine=%q", got)
	}
}
