//go:build integration
// +build integration

package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	httpapi "github.com/willexec/willexec/internal/api/http"
	"github.com/willexec/willexec/internal/application/engine"
	appLiveness "github.com/willexec/willexec/internal/application/liveness"
	appPayout "github.com/willexec/willexec/internal/application/payout"
	"github.com/willexec/willexec/internal/application/willstore"
	"github.com/willexec/willexec/internal/domain/liveness"
	"github.com/willexec/willexec/internal/domain/will"
	"github.com/willexec/willexec/internal/infrastructure/keystore"
	"github.com/willexec/willexec/internal/infrastructure/postgres"
	"github.com/willexec/willexec/internal/infrastructure/probe"
	"github.com/willexec/willexec/internal/infrastructure/rail"
	"github.com/willexec/willexec/internal/infrastructure/sse"
)

const signingKeyHex = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

type railServer struct {
	*httptest.Server
	mu        sync.Mutex
	transfers []map[string]interface{}
	badSigs   int
}

func newRailServer(t *testing.T, balance int64) *railServer {
	t.Helper()
	key := mustDecodeHex(t, signingKeyHex)
	rs := &railServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		defer rs.mu.Unlock()
		if !rail.VerifySignature(r.Header.Get(rail.SignatureHeader), key, r.Method, r.URL.Path, body) {
			rs.badSigs++
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/balance":
			_ = json.NewEncoder(w).Encode(map[string]int64{"available": balance})
		case "/transfers":
			var payload map[string]interface{}
			_ = json.Unmarshal(body, &payload)
			rs.transfers = append(rs.transfers, payload)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return rs
}

type stack struct {
	api    *httptest.Server
	engine *engine.Engine
	rail   *railServer
}

func TestSilentPrincipalPayoutIntegration(t *testing.T) {
	s, cleanup := newStack(t)
	defer cleanup()

	putWill(t, s.api.URL)
	checkinAt := time.Now().UTC().Add(-72 * time.Hour).Format(time.RFC3339)
	postJSON(t, http.DefaultClient, s.api.URL+"/v1/checkin", map[string]interface{}{
		"identifier": "principal",
		"at":         checkinAt,
	}, nil)

	outcome, err := s.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if outcome != engine.OutcomeExecuted {
		t.Fatalf("unexpected outcome: %s", outcome)
	}

	s.rail.mu.Lock()
	transfers := s.rail.transfers
	badSigs := s.rail.badSigs
	s.rail.mu.Unlock()
	if badSigs != 0 {
		t.Fatalf("rail rejected %d signatures", badSigs)
	}
	if len(transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(transfers))
	}
	if transfers[0]["account_id"] != "heir-1" || transfers[0]["amount"] != float64(500) {
		t.Fatalf("unexpected first transfer: %v", transfers[0])
	}
	if transfers[1]["account_id"] != "heir-2" || transfers[1]["amount"] != float64(501) {
		t.Fatalf("unexpected second transfer: %v", transfers[1])
	}

	var listed struct {
		Executions []map[string]interface{} `json:"executions"`
	}
	getJSON(t, s.api.URL+"/v1/executions", &listed)
	if len(listed.Executions) != 1 || listed.Executions[0]["status"] != "COMPLETED" {
		t.Fatalf("unexpected executions: %v", listed.Executions)
	}

	outcome, err = s.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if outcome != engine.OutcomeAlreadyExecuted {
		t.Fatalf("expected already_executed, got %s", outcome)
	}
}

func TestRecentCheckinKeepsPrincipalAliveIntegration(t *testing.T) {
	s, cleanup := newStack(t)
	defer cleanup()

	putWill(t, s.api.URL)
	postJSON(t, http.DefaultClient, s.api.URL+"/v1/checkin", map[string]interface{}{"identifier": "principal"}, nil)

	outcome, err := s.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if outcome != engine.OutcomeAlive {
		t.Fatalf("unexpected outcome: %s", outcome)
	}

	var current map[string]interface{}
	getJSON(t, s.api.URL+"/v1/will", &current)
	accounts, _ := current["monitoredAccounts"].([]interface{})
	if len(accounts) != 1 {
		t.Fatalf("unexpected accounts: %v", current["monitoredAccounts"])
	}
	acct, _ := accounts[0].(map[string]interface{})
	if acct["lastKnownActivityAt"] == nil {
		t.Fatalf("check-in was not persisted")
	}
}

func TestSSEDeliveryIntegration(t *testing.T) {
	s, cleanup := newStack(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.api.URL+"/v1/events?types=cycle", nil)
	if err != nil {
		t.Fatalf("sse request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("sse connect: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("sse handshake: %q %v", line, err)
	}

	msgCh := make(chan map[string]interface{}, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				var msg map[string]interface{}
				if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data: "))), &msg); err == nil {
					msgCh <- msg
					return
				}
			}
		}
	}()

	if _, err := s.engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	select {
	case msg := <-msgCh:
		if msg["type"] != "cycle" {
			t.Fatalf("unexpected event: %v", msg["type"])
		}
		data, ok := msg["data"].(map[string]interface{})
		if !ok || data["outcome"] != "not_configured" {
			t.Fatalf("unexpected cycle payload: %v", msg["data"])
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("SSE message not received")
	}
}

func putWill(t *testing.T, baseURL string) {
	t.Helper()
	body := map[string]interface{}{
		"statementText":       "split between heirs",
		"executorIdentity":    "executor@example.com",
		"pollIntervalSeconds": 3600,
		"beneficiaries": []map[string]interface{}{
			{"accountId": "heir-1", "splitWeight": "1"},
			{"accountId": "heir-2", "splitWeight": "1"},
		},
		"monitoredAccounts": []map[string]interface{}{
			{"platform": "checkin", "identifier": "principal", "graceWindowDays": "1"},
		},
	}
	doJSON(t, http.MethodPut, baseURL+"/v1/will", body, nil)
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}, out interface{}) {
	t.Helper()
	doJSONWith(t, client, http.MethodPost, url, body, out)
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) {
	t.Helper()
	doJSONWith(t, http.DefaultClient, method, url, body, out)
}

func doJSONWith(t *testing.T, client *http.Client, method, url string, body interface{}, out interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s status %d: %s", method, url, resp.StatusCode, string(bodyBytes))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("get %s status %d: %s", url, resp.StatusCode, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func newStack(t *testing.T) (*stack, func()) {
	t.Helper()
	dsn := testDatabaseURL(t)

	ctx := context.Background()
	if err := postgres.RunMigrations(dsn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db pool: %v", err)
	}
	if err := resetDatabase(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("reset db: %v", err)
	}

	logger := zerolog.Nop()
	willRepo := postgres.NewWillRepository(pool)
	execRepo := postgres.NewExecutionRepository(pool)

	keys, err := keystore.Parse("it:"+signingKeyHex, "")
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	keyID, key, err := keys.Default()
	if err != nil {
		t.Fatalf("default key: %v", err)
	}
	railSrv := newRailServer(t, 1001)
	railClient := rail.NewHTTPClient(railSrv.URL, "", 5*time.Second, logger).WithSigner(keyID, key)

	sseHub := sse.NewHub()
	hooks := engine.NewHooks(sseHub, nil)
	willSvc := willstore.NewService(willRepo, logger)
	checkins := probe.NewCheckinLedger()
	registry := liveness.NewRegistry()
	registry.Register(will.PlatformCheckin, checkins)

	aggregator := appLiveness.NewAggregator(registry, willSvc, logger).WithObserver(hooks)
	executor := appPayout.NewExecutor(railClient, execRepo, logger).WithObserver(hooks)
	loop := engine.New(willSvc, aggregator, executor, execRepo, railClient, logger).WithPublisher(sseHub)

	apiServer := httpapi.NewServer(willSvc, execRepo, loop, checkins, railClient, sseHub, "", logger)
	server := httptest.NewServer(apiServer.Router())

	cleanup := func() {
		server.Close()
		railSrv.Close()
		sseHub.Stop()
		pool.Close()
	}
	return &stack{api: server, engine: loop, rail: railSrv}, cleanup
}

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	t.Skip("TEST_DATABASE_URL not set; skipping integration tests")
	return ""
}

func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			execution_payouts,
			executions,
			monitored_accounts,
			will_beneficiaries,
			wills
		RESTART IDENTITY CASCADE
	`)
	return err
}

func mustDecodeHex(t *testing.T, value string) []byte {
	t.Helper()
	b, err := hex.DecodeString(value)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	return b
}
