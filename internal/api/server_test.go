package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"signal-engine/internal/backtest"
	"signal-engine/internal/engine"
	"signal-engine/internal/events"
	"signal-engine/internal/filter"
	"signal-engine/internal/order"
	"signal-engine/internal/position"
	"signal-engine/internal/simulation"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/config"
	"signal-engine/pkg/db"
)

type fakeEngine struct {
	mu        sync.Mutex
	submitted []strategy.Signal
	stopped   bool
	resets    int
	halted    string
}

func (f *fakeEngine) HandleSignal(context.Context, strategy.Signal) (engine.Decision, error) {
	return engine.Decision{}, nil
}

func (f *fakeEngine) Submit(sig strategy.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return engine.ErrStopped
	}
	f.submitted = append(f.submitted, sig)
	return nil
}

func (f *fakeEngine) Positions(context.Context) []engine.PositionView { return nil }
func (f *fakeEngine) PendingOrders() []order.Pending                 { return nil }

func (f *fakeEngine) ClosePosition(_ context.Context, id string) (position.ClosedTrade, error) {
	if id != "p1" {
		return position.ClosedTrade{}, position.ErrNotFound
	}
	return position.ClosedTrade{Position: position.Position{ID: id}, Reason: position.ReasonManual}, nil
}

func (f *fakeEngine) EmergencyStop(_ context.Context, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halted = reason
	return nil
}

func (f *fakeEngine) Resume()                   {}
func (f *fakeEngine) FilterStats() filter.Stats { return filter.Stats{} }

func (f *fakeEngine) ResetFilterStats() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeEngine) Risk(context.Context) engine.RiskView { return engine.RiskView{} }

func (f *fakeEngine) Status() engine.SystemStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.SystemStatus{Mode: "paper", Halted: f.halted != "", HaltReason: f.halted}
}

type fakeBacktester struct {
	release chan struct{}
	ran     chan backtest.Options
}

func (b *fakeBacktester) Run(_ context.Context, opts backtest.Options) (*backtest.Report, error) {
	b.ran <- opts
	<-b.release
	return &backtest.Report{ID: "r1", Result: &backtest.Result{}}, nil
}

func (b *fakeBacktester) RunPreset(ctx context.Context, name, symbol string) (*backtest.Report, error) {
	opts, err := backtest.PresetOptions(name, symbol, time.Now())
	if err != nil {
		return nil, err
	}
	return b.Run(ctx, opts)
}

func (b *fakeBacktester) Latest() (*backtest.Report, error) { return nil, backtest.ErrNoResults }

func (b *fakeBacktester) History(context.Context, int) ([]db.BacktestRun, error) { return nil, nil }

type testEnv struct {
	server *Server
	engine *fakeEngine
	store  *config.Store
	bt     *fakeBacktester
	ledger *simulation.Ledger
	bus    *events.Bus
}

const (
	testSecret   = "test-secret"
	testWebhook  = "hook-secret"
	testPassword = "s3cret-pass"
)

var (
	hashOnce sync.Once
	testHash string
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hashOnce.Do(func() {
		h, err := HashPassword(testPassword)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		testHash = h
	})

	env := &testEnv{
		engine: &fakeEngine{},
		store:  config.NewStore(config.DefaultTrading()),
		bt:     &fakeBacktester{release: make(chan struct{}), ran: make(chan backtest.Options, 4)},
		ledger: simulation.NewLedger("", 1000, nil),
		bus:    events.NewBus(),
	}
	env.server = NewServer(Options{
		Engine:   env.engine,
		Config:   env.store,
		Backtest: env.bt,
		Ledger:   env.ledger,
		Bus:      env.bus,
		Auth:     AuthConfig{JWTSecret: testSecret, AdminUser: "admin", AdminPasswordHash: testHash},
		Webhook:  WebhookConfig{Secret: testWebhook, AllowedSymbols: []string{"*USDT"}},
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Router.ServeHTTP(w, req)
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w.Code
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	var resp struct {
		Token string `json:"token"`
	}
	code := e.do(t, http.MethodPost, "/api/auth/token", "", map[string]string{"username": "admin", "password": testPassword}, &resp)
	if code != http.StatusOK || resp.Token == "" {
		t.Fatalf("token status=%d", code)
	}
	return resp.Token
}

func signalBody(price float64) map[string]any {
	return map[string]any{
		"strategy":  "alphatrend",
		"action":    "buy",
		"symbol":    "ethusdt",
		"timeframe": "15m",
		"price":     price,
		"timestamp": 1740823200000,
		"secret":    testWebhook,
	}
}

func TestTradingViewWebhook(t *testing.T) {
	env := newTestEnv(t)

	var resp map[string]any
	if code := env.do(t, http.MethodPost, "/webhook/tradingview", "", signalBody(100), &resp); code != http.StatusOK {
		t.Fatalf("status=%d, expected 200", code)
	}
	if resp["status"] != "received" {
		t.Fatalf("resp=%v", resp)
	}
	if len(env.engine.submitted) != 1 {
		t.Fatalf("submitted=%d, expected 1", len(env.engine.submitted))
	}
	sig := env.engine.submitted[0]
	if sig.Symbol != "ETHUSDT" || sig.Action != strategy.ActionBuy || sig.Price != 100 {
		t.Fatalf("signal=%+v", sig)
	}
}

func TestTradingViewWebhookRejects(t *testing.T) {
	wrongSecret := signalBody(100)
	wrongSecret["secret"] = "nope"
	badSymbol := signalBody(100)
	badSymbol["symbol"] = "ETHBTC"
	badAction := signalBody(100)
	badAction["action"] = "HOLD"
	missing := signalBody(100)
	delete(missing, "timeframe")

	tests := []struct {
		name string
		body map[string]any
		code int
		err  string
	}{
		{"wrong secret", wrongSecret, http.StatusUnauthorized, "INVALID_SECRET"},
		{"zero price", signalBody(0), http.StatusBadRequest, "INVALID_PRICE"},
		{"negative price", signalBody(-1), http.StatusBadRequest, "INVALID_PRICE"},
		{"symbol not allowed", badSymbol, http.StatusForbidden, "SYMBOL_NOT_ALLOWED"},
		{"unknown action", badAction, http.StatusBadRequest, "INVALID_SIGNAL"},
		{"missing timeframe", missing, http.StatusBadRequest, "INVALID_PAYLOAD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			var resp map[string]any
			if code := env.do(t, http.MethodPost, "/webhook/tradingview", "", tt.body, &resp); code != tt.code {
				t.Fatalf("status=%d, expected %d", code, tt.code)
			}
			if resp["code"] != tt.err {
				t.Fatalf("code=%v, expected %s", resp["code"], tt.err)
			}
			if len(env.engine.submitted) != 0 {
				t.Fatalf("signal should not reach the engine")
			}
		})
	}
}

func TestWebhookSecretHeaderAndStoppedEngine(t *testing.T) {
	env := newTestEnv(t)
	body := signalBody(100)
	delete(body, "secret")
	raw, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/webhook/tradingview", bytes.NewReader(raw))
	req.Header.Set("X-Webhook-Secret", testWebhook)
	w := httptest.NewRecorder()
	env.server.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, expected 200 with header secret", w.Code)
	}

	env.engine.stopped = true
	var resp map[string]any
	if code := env.do(t, http.MethodPost, "/webhook/tradingview", "", signalBody(100), &resp); code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, expected 503", code)
	}
}

func TestSymbolAllowed(t *testing.T) {
	tests := []struct {
		patterns []string
		symbol   string
		want     bool
	}{
		{nil, "ANY", true},
		{[]string{"*USDT"}, "ETHUSDT", true},
		{[]string{"*usdt"}, "ETHUSDT", true},
		{[]string{"*USDT"}, "ETHBTC", false},
		{[]string{"BTC*", "ETH*"}, "ETHBTC", true},
		{[]string{"SOLUSDT"}, "ETHUSDT", false},
	}
	for _, tt := range tests {
		if got := SymbolAllowed(tt.patterns, tt.symbol); got != tt.want {
			t.Fatalf("SymbolAllowed(%v, %s)=%v, expected %v", tt.patterns, tt.symbol, got, tt.want)
		}
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	if code := env.do(t, http.MethodGet, "/api/positions", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("no token status=%d, expected 401", code)
	}
	if code := env.do(t, http.MethodGet, "/api/positions", "garbage", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token status=%d, expected 401", code)
	}
	if code := env.do(t, http.MethodPost, "/api/auth/token", "", map[string]string{"username": "admin", "password": "wrong"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong password status=%d, expected 401", code)
	}
	if code := env.do(t, http.MethodPost, "/api/auth/token", "", map[string]string{"username": "root", "password": testPassword}, nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong user status=%d, expected 401", code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if code := env.do(t, http.MethodGet, "/api/positions", env.token(t), nil, &resp); code != http.StatusOK {
		t.Fatalf("status=%d, expected 200", code)
	}

	foreign, err := generateToken("admin", "other-secret", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("generateToken: %v", err)
	}
	if code := env.do(t, http.MethodGet, "/api/positions", foreign, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("foreign token status=%d, expected 401", code)
	}
}

func TestPositionControls(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	if code := env.do(t, http.MethodPost, "/api/positions/missing/close", token, nil, nil); code != http.StatusNotFound {
		t.Fatalf("close missing status=%d, expected 404", code)
	}
	var trade position.ClosedTrade
	if code := env.do(t, http.MethodPost, "/api/positions/p1/close", token, nil, &trade); code != http.StatusOK || trade.Reason != position.ReasonManual {
		t.Fatalf("close status=%d trade=%+v", code, trade)
	}

	if code := env.do(t, http.MethodPost, "/api/emergency-stop", token, map[string]string{"reason": "drawdown"}, nil); code != http.StatusOK {
		t.Fatalf("emergency stop status=%d", code)
	}
	if env.engine.halted != "drawdown" {
		t.Fatalf("halt reason=%q", env.engine.halted)
	}
	if code := env.do(t, http.MethodPost, "/api/resume", token, nil, nil); code != http.StatusOK {
		t.Fatalf("resume status=%d", code)
	}
}

func TestConfigRoutes(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	var upd struct {
		Result config.UpdateResult `json:"result"`
		Config config.Trading      `json:"config"`
	}
	code := env.do(t, http.MethodPost, "/api/config", token, map[string]float64{"DEFAULT_TP_PERCENT": 0.7, "ADX_THRESHOLD": 5}, &upd)
	if code != http.StatusOK {
		t.Fatalf("update status=%d", code)
	}
	if upd.Config.TPPercent != 0.7 || upd.Config.ADXThreshold != 20 {
		t.Fatalf("config=%+v", upd.Config)
	}
	if _, ok := upd.Result.Rejected["ADX_THRESHOLD"]; !ok {
		t.Fatalf("ADX_THRESHOLD should be reported as rejected: %+v", upd.Result)
	}

	if code := env.do(t, http.MethodPost, "/api/config", token, map[string]float64{"NOPE": 1}, nil); code != http.StatusBadRequest {
		t.Fatalf("nothing applied status=%d, expected 400", code)
	}
	if code := env.do(t, http.MethodPost, "/api/config/preset/yolo", token, nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown preset status=%d, expected 404", code)
	}
	if code := env.do(t, http.MethodPost, "/api/config/preset/aggressive", token, nil, nil); code != http.StatusOK {
		t.Fatalf("preset status=%d", code)
	}
	if got := env.store.Snapshot(); got.TPPercent != 0.8 || got.MaxActiveTrades != 8 {
		t.Fatalf("after preset=%+v", got)
	}

	if code := env.do(t, http.MethodPost, "/api/config/ai", token, map[string]bool{"enabled": true}, nil); code != http.StatusOK {
		t.Fatalf("ai toggle status=%d", code)
	}
	if !env.store.Snapshot().AIEnabled {
		t.Fatalf("AI should be enabled")
	}
}

func TestStatsReset(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	if code := env.do(t, http.MethodPost, "/api/stats/reset", token, map[string]float64{"balance": 500}, nil); code != http.StatusOK {
		t.Fatalf("reset status=%d", code)
	}
	if env.engine.resets != 1 {
		t.Fatalf("filter resets=%d, expected 1", env.engine.resets)
	}
	var perf simulation.Performance
	if code := env.do(t, http.MethodGet, "/api/stats/performance", token, nil, &perf); code != http.StatusOK || perf.Balance != 500 {
		t.Fatalf("performance status=%d balance=%v", code, perf.Balance)
	}
}

func TestBacktestRunsOneAtATime(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	body := map[string]any{"symbol": "BTCUSDT", "startDate": "2024-01-01", "endDate": "2024-01-15"}
	if code := env.do(t, http.MethodPost, "/api/backtest", token, body, nil); code != http.StatusAccepted {
		t.Fatalf("status=%d, expected 202", code)
	}
	opts := <-env.bt.ran
	if opts.Symbol != "BTCUSDT" || !opts.End.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("opts=%+v", opts)
	}

	if code := env.do(t, http.MethodPost, "/api/backtest/preset/last_week", token, nil, nil); code != http.StatusConflict {
		t.Fatalf("second run status=%d, expected 409", code)
	}
	close(env.bt.release)
	env.server.Wait()

	if code := env.do(t, http.MethodPost, "/api/backtest/preset/last_decade", token, nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown preset status=%d, expected 404", code)
	}
	bad := map[string]any{"startDate": "2024-02-01", "endDate": "2024-01-01"}
	if code := env.do(t, http.MethodPost, "/api/backtest", token, bad, nil); code != http.StatusBadRequest {
		t.Fatalf("inverted dates status=%d, expected 400", code)
	}
	if code := env.do(t, http.MethodGet, "/api/backtest/results", token, nil, nil); code != http.StatusNotFound {
		t.Fatalf("results status=%d, expected 404", code)
	}
}

func TestIPLimiter(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	l := newIPLimiter(RateLimitConfig{PerSecond: 1, Burst: 2, TTL: time.Minute})
	l.now = func() time.Time { return now }

	if !l.allow("1.1.1.1") || !l.allow("1.1.1.1") {
		t.Fatalf("burst of 2 should pass")
	}
	if l.allow("1.1.1.1") {
		t.Fatalf("third request should be limited")
	}
	if !l.allow("2.2.2.2") {
		t.Fatalf("other IPs have their own bucket")
	}
	now = now.Add(2 * time.Minute)
	l.allow("2.2.2.2")
	if _, ok := l.ips["1.1.1.1"]; ok {
		t.Fatalf("idle limiter should be swept")
	}
}

func TestWebsocketStreamsEvents(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(20 * time.Millisecond):
				env.bus.Publish(events.EventRiskAlert, map[string]any{"type": "resume"})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got events.Envelope
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Event != events.EventRiskAlert {
		t.Fatalf("event=%s, expected %s", got.Event, events.EventRiskAlert)
	}
}
