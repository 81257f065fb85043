package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"github.com/ksred/eatrack/internal/heartbeat"
	"github.com/ksred/eatrack/internal/types"
	"github.com/ksred/eatrack/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	fastInterval    = time.Second
	slowInterval    = 30 * time.Second
	resyncEvery     = 10
	maxOpen         = 8
	defaultDuration = 2 * time.Minute
	defaultServer   = "http://localhost:8080"
)

var (
	symbols = []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD", "US30"}
	sides   = []string{types.SideBuy, types.SideSell}
	magics  = []int64{0, 1001, 2002}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate returns min, max, mean, median, p95 and p99 of the recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sorted := append([]time.Duration(nil), rs.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean = sum / time.Duration(len(sorted))
	median = sorted[len(sorted)/2]

	p95 = sorted[int(math.Ceil(float64(len(sorted))*0.95))-1]
	p99 = sorted[int(math.Ceil(float64(len(sorted))*0.99))-1]
	return
}

// pollInterval picks the EA's send cadence from the server's view of the
// dashboard: fast while a viewer heartbeat is fresh, slow otherwise.
func pollInterval(lastHeartbeatSeconds int64, viewerActive time.Duration) time.Duration {
	if lastHeartbeatSeconds >= 0 && time.Duration(lastHeartbeatSeconds)*time.Second < viewerActive {
		return fastInterval
	}
	return slowInterval
}

type snapshotBody struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"freeMargin"`
	MarginLevel float64 `json:"marginLevel"`
	Profit      float64 `json:"profit"`
	Leverage    int64   `json:"leverage"`
	ServerName  string  `json:"serverName"`
}

type positionBody struct {
	Ticket       string  `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"`
	Volume       float64 `json:"volume"`
	OpenPrice    float64 `json:"openPrice"`
	CurrentPrice float64 `json:"currentPrice"`
	Profit       float64 `json:"profit"`
	Swap         float64 `json:"swap"`
	Commission   float64 `json:"commission"`
	OpenTime     string  `json:"openTime"`
	MagicNumber  *int64  `json:"magicNumber,omitempty"`
}

type closeBody struct {
	positionBody
	ClosePrice float64 `json:"closePrice"`
	CloseTime  string  `json:"closeTime"`
}

// simulationClient plays the role of one MT4/MT5 EA
type simulationClient struct {
	rc      *resty.Client
	mu      sync.Mutex
	stats   map[string]*routeStats
	open    map[string]*positionBody
	nextTkt int64
	balance float64
}

func newSimulationClient(baseURL, apiKey string) *simulationClient {
	rc := resty.New().
		SetBaseURL(baseURL+"/api/v1/ea").
		SetTimeout(10*time.Second).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")

	return &simulationClient{
		rc: rc,
		stats: map[string]*routeStats{
			"ping":     {name: "Ping"},
			"activity": {name: "Activity"},
			"snapshot": {name: "Snapshot"},
			"upsert":   {name: "Upsert Position"},
			"sync":     {name: "Sync Positions"},
			"close":    {name: "Close Position"},
		},
		open:    make(map[string]*positionBody),
		nextTkt: time.Now().Unix(),
		balance: 10000,
	}
}

// post sends one EA call and records its latency under route
func (sc *simulationClient) post(ctx context.Context, route, path string, body, result interface{}) error {
	var envelope response.Response
	start := time.Now()
	resp, err := sc.rc.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&envelope).
		Post(path)

	sc.mu.Lock()
	stats := sc.stats[route]
	stats.addDuration(time.Since(start))
	if err != nil || resp.IsError() {
		stats.failures++
	}
	sc.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if resp.IsError() {
		if envelope.Error != nil {
			return fmt.Errorf("%s: %d %s: %s", path, resp.StatusCode(), envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("%s: status %d", path, resp.StatusCode())
	}
	return nil
}

func (sc *simulationClient) ping(ctx context.Context) (*types.PingAck, error) {
	var ack types.PingAck
	return &ack, sc.post(ctx, "ping", "/ping", struct{}{}, &ack)
}

func (sc *simulationClient) activity(ctx context.Context) (*types.ActivityAck, error) {
	var ack types.ActivityAck
	return &ack, sc.post(ctx, "activity", "/activity", struct{}{}, &ack)
}

func (sc *simulationClient) sendSnapshot(ctx context.Context) (*types.SnapshotAck, error) {
	floating := 0.0
	for _, p := range sc.open {
		floating += p.Profit
	}
	margin := float64(len(sc.open)) * 100
	equity := sc.balance + floating
	snap := snapshotBody{
		Balance:    round2(sc.balance),
		Equity:     round2(equity),
		Margin:     margin,
		FreeMargin: round2(equity - margin),
		Profit:     round2(floating),
		Leverage:   100,
		ServerName: "Simulated-Demo",
	}
	if margin > 0 {
		snap.MarginLevel = round2(equity / margin * 100)
	}

	var ack types.SnapshotAck
	return &ack, sc.post(ctx, "snapshot", "/snapshot", snap, &ack)
}

func (sc *simulationClient) openPosition(ctx context.Context) error {
	sc.nextTkt++
	pos := &positionBody{
		Ticket:    strconv.FormatInt(sc.nextTkt, 10),
		Symbol:    symbols[rand.Intn(len(symbols))],
		Type:      sides[rand.Intn(len(sides))],
		Volume:    float64(rand.Intn(10)+1) / 10,
		OpenPrice: round2(1 + rand.Float64()*100),
		OpenTime:  time.Now().UTC().Format(time.RFC3339),
	}
	pos.CurrentPrice = pos.OpenPrice
	if m := magics[rand.Intn(len(magics))]; m != 0 {
		pos.MagicNumber = &m
	}

	var ack types.PositionAck
	if err := sc.post(ctx, "upsert", "/positions", pos, &ack); err != nil {
		return err
	}
	sc.open[pos.Ticket] = pos
	log.Info().
		Str("ticket", pos.Ticket).
		Str("symbol", pos.Symbol).
		Str("type", pos.Type).
		Float64("volume", pos.Volume).
		Msg("Position opened")
	return nil
}

// drift moves every open position's price and pushes one of them
func (sc *simulationClient) drift(ctx context.Context) error {
	var touched *positionBody
	for _, p := range sc.open {
		p.CurrentPrice = round2(p.CurrentPrice * (1 + (rand.Float64()-0.5)/50))
		dir := 1.0
		if p.Type == types.SideSell {
			dir = -1
		}
		p.Profit = round2((p.CurrentPrice - p.OpenPrice) * p.Volume * 100 * dir)
		p.Swap = round2(p.Swap - 0.01)
		touched = p
	}
	if touched == nil {
		return nil
	}
	var ack types.PositionAck
	return sc.post(ctx, "upsert", "/positions", touched, &ack)
}

func (sc *simulationClient) closeRandom(ctx context.Context) error {
	for ticket, p := range sc.open {
		p.Commission = round2(-p.Volume * 7)
		body := closeBody{
			positionBody: *p,
			ClosePrice:   p.CurrentPrice,
			CloseTime:    time.Now().UTC().Format(time.RFC3339),
		}
		var ack types.CloseAck
		if err := sc.post(ctx, "close", "/positions/close", body, &ack); err != nil {
			return err
		}
		sc.balance += p.Profit + p.Commission + p.Swap
		delete(sc.open, ticket)
		log.Info().
			Str("ticket", ticket).
			Float64("profit", p.Profit).
			Float64("balance", round2(sc.balance)).
			Msg("Position closed")
		return nil
	}
	return nil
}

func (sc *simulationClient) resync(ctx context.Context) error {
	batch := make([]*positionBody, 0, len(sc.open))
	for _, p := range sc.open {
		batch = append(batch, p)
	}
	var ack types.PositionsSyncAck
	if err := sc.post(ctx, "sync", "/positions/sync", map[string]interface{}{"positions": batch}, &ack); err != nil {
		return err
	}
	log.Debug().Int("positions", ack.PositionsCount).Msg("Positions resynced")
	return nil
}

// tick runs one EA cycle and returns the viewer heartbeat age the server reported
func (sc *simulationClient) tick(ctx context.Context, n int) (int64, error) {
	switch r := rand.Intn(10); {
	case r < 3 && len(sc.open) < maxOpen:
		if err := sc.openPosition(ctx); err != nil {
			return heartbeat.NeverSeen, err
		}
	case r < 5 && len(sc.open) > 0:
		if err := sc.closeRandom(ctx); err != nil {
			return heartbeat.NeverSeen, err
		}
	default:
		if err := sc.drift(ctx); err != nil {
			return heartbeat.NeverSeen, err
		}
	}

	if n%resyncEvery == 0 {
		if err := sc.resync(ctx); err != nil {
			return heartbeat.NeverSeen, err
		}
	}

	ack, err := sc.sendSnapshot(ctx)
	if err != nil {
		return heartbeat.NeverSeen, err
	}
	return ack.LastHeartbeatSeconds, nil
}

// printPerformanceStats outputs formatted performance statistics for all EA endpoints
func (sc *simulationClient) printPerformanceStats() {
	names := make([]string, 0, len(sc.stats))
	for k := range sc.stats {
		names = append(names, k)
	}
	sort.Strings(names)

	fmt.Println("\nEA API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, k := range names {
		stats := sc.stats[k]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
	}
	return def
}

// main drives a simulated EA against a running eatrack server. The account's
// API key comes from EATRACK_API_KEY; see `eatrackctl account create`.
func main() {
	_ = godotenv.Load()

	apiKey := os.Getenv("EATRACK_API_KEY")
	if apiKey == "" {
		log.Fatal().Msg("EATRACK_API_KEY is required")
	}
	server := os.Getenv("EATRACK_URL")
	if server == "" {
		server = defaultServer
	}
	runFor := envDuration("SIM_DURATION", defaultDuration)
	viewerActive := envDuration("VIEWER_ACTIVE_THRESHOLD", 60*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runFor)
	defer cancel()

	sc := newSimulationClient(server, apiKey)

	ping, err := sc.ping(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Ping failed")
	}
	log.Info().Str("account_id", ping.AccountID).Dur("run_for", runFor).Msg("Starting simulation")

	act, err := sc.activity(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Activity check failed")
	}
	interval := pollInterval(act.LastHeartbeatSeconds, viewerActive)

	start := time.Now()
	ticks, failures := 0, 0
	timer := time.NewTimer(0)
	defer timer.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
		}

		ticks++
		age, err := sc.tick(ctx, ticks)
		if err != nil {
			if ctx.Err() != nil {
				break loop
			}
			failures++
			log.Error().Err(err).Int("tick", ticks).Msg("EA cycle failed")
		} else if next := pollInterval(age, viewerActive); next != interval {
			log.Info().
				Int64("last_heartbeat_seconds", age).
				Dur("interval", next).
				Msg("Switching send mode")
			interval = next
		}
		timer.Reset(interval)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("EA SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Cycles:           %d
Failed cycles:    %d
Open positions:   %d
Balance:          %.2f
Duration:         %v
`, ticks, failures, len(sc.open), sc.balance, time.Since(start).Round(time.Millisecond))

	sc.printPerformanceStats()
}
