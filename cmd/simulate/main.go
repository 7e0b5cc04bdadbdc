package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type SimConfig struct {
	APIBaseURL      string // appointment-server
	ScheduleBaseURL string // schedule routes; defaults to APIBaseURL
	Duration        time.Duration
	Workers         int
	Schedules       int
	Patients        int
	RaceRounds      int
	BookingRatio    float64
	CancelRatio     float64
	CompleteRatio   float64
	ReadRatio       float64
}

type slotRef struct {
	ScheduleID uuid.UUID
	SlotID     uuid.UUID
}

// DataPool holds the fixtures the workers draw from.
type DataPool struct {
	Patients []string
	Slots    []slotRef

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total    atomic.Int64
	Success  atomic.Int64
	Conflict atomic.Int64
	Error    atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	om.Total.Add(1)
	switch {
	case err == nil && status < 300:
		om.Success.Add(1)
	case err == nil && status == http.StatusConflict:
		om.Conflict.Add(1)
	default:
		om.Error.Add(1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

type latencyStats struct {
	Avg, Min, Max, P50, P95, P99 time.Duration
}

func (om *OperationMetrics) Stats() latencyStats {
	om.mu.Lock()
	sorted := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()

	if len(sorted) == 0 {
		return latencyStats{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	pct := func(p int) time.Duration {
		idx := len(sorted) * p / 100
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}

	return latencyStats{
		Avg: sum / time.Duration(len(sorted)),
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		P50: pct(50),
		P95: pct(95),
		P99: pct(99),
	}
}

type Metrics struct {
	Booking       OperationMetrics
	Cancel        OperationMetrics
	Complete      OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
}

type raceResult struct {
	Rounds         int
	DoubleBookings int
	NoWinner       int
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d schedules=%d booking=%.2f cancel=%.2f complete=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.Schedules, cfg.BookingRatio, cfg.CancelRatio, cfg.CompleteRatio, cfg.ReadRatio)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	pool, err := sim.prepare(ctx, gofakeit.New(0))
	cancel()
	if err != nil {
		log.Fatalf("prepare fixtures: %v", err)
	}
	sim.pool = pool
	log.Printf("prepared: %d patients, %d slots", len(pool.Patients), len(pool.Slots))

	race := sim.Race(context.Background())
	sim.Run()
	sim.PrintReport(race)

	if race.DoubleBookings > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	_ = godotenv.Load()

	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		Schedules:     getInt("SIM_SCHEDULES", 20),
		Patients:      getInt("SIM_PATIENTS", 500),
		RaceRounds:    getInt("SIM_RACE_ROUNDS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.1),
		CompleteRatio: getFloat("SIM_COMPLETE_RATIO", 0.1),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
	}
	cfg.ScheduleBaseURL = strings.TrimRight(getEnv("SIM_SCHEDULE_BASE_URL", cfg.APIBaseURL), "/")

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.CompleteRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.CompleteRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Schedules <= 0 || cfg.Patients <= 0 {
		return fmt.Errorf("SIM_SCHEDULES and SIM_PATIENTS must be > 0")
	}
	return nil
}

// prepare registers fresh schedules through the API, one room each so they
// never overlap, and generates patient DNIs.
func (s *Simulator) prepare(ctx context.Context, faker *gofakeit.Faker) (*DataPool, error) {
	pool := &DataPool{}
	for i := 0; i < s.config.Patients; i++ {
		pool.Patients = append(pool.Patients, faker.Numerify("########"))
	}

	runID := uuid.NewString()[:8]
	for i := 0; i < s.config.Schedules; i++ {
		req := map[string]any{
			"practitioner_id": uuid.NewString(),
			"specialty_id":    uuid.NewString(),
			"room":            fmt.Sprintf("sim-%s-%d", runID, i),
			"date":            time.Now().AddDate(0, 0, 2+i%7).Format("2006-01-02"),
			"start_time":      "09:00",
			"end_time":        "17:00",
			"slot_minutes":    faker.RandomInt([]int{15, 30}),
		}

		var created struct {
			ID    uuid.UUID `json:"id"`
			Slots []struct {
				ID uuid.UUID `json:"id"`
			} `json:"slots"`
		}
		status, err := s.send(ctx, http.MethodPost, s.config.ScheduleBaseURL+"/schedules", req, &created)
		if err != nil {
			return nil, fmt.Errorf("create schedule: %w", err)
		}
		if status != http.StatusCreated {
			return nil, fmt.Errorf("create schedule: unexpected status %d", status)
		}
		for _, sl := range created.Slots {
			pool.Slots = append(pool.Slots, slotRef{ScheduleID: created.ID, SlotID: sl.ID})
		}
	}

	if len(pool.Slots) == 0 {
		return nil, fmt.Errorf("no slots generated")
	}
	return pool, nil
}

// Race books the same slot from every worker at once and checks that exactly
// one request wins each round. Raced slots are taken off the pool.
func (s *Simulator) Race(ctx context.Context) raceResult {
	var res raceResult
	rounds := s.config.RaceRounds
	if rounds > len(s.pool.Slots)/2 {
		rounds = len(s.pool.Slots) / 2
	}

	for i := 0; i < rounds; i++ {
		target := s.pool.Slots[i]
		var winners atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})

		for w := 0; w < s.config.Workers; w++ {
			wg.Add(1)
			go func(dni string) {
				defer wg.Done()
				<-start
				var out struct {
					ID uuid.UUID `json:"id"`
				}
				status, err := s.send(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", map[string]string{
					"patient_dni": dni,
					"schedule_id": target.ScheduleID.String(),
					"slot_id":     target.SlotID.String(),
				}, &out)
				if err == nil && status == http.StatusCreated {
					winners.Add(1)
					s.pool.AddAppointment(out.ID)
				}
			}(s.pool.Patients[w%len(s.pool.Patients)])
		}
		close(start)
		wg.Wait()

		res.Rounds++
		switch n := winners.Load(); {
		case n > 1:
			res.DoubleBookings++
		case n == 0:
			res.NoWinner++
		}
	}

	s.pool.Slots = s.pool.Slots[rounds:]
	return res
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doBooking(ctx, rng)
		case r < c.BookingRatio+c.CancelRatio:
			s.doTransition(ctx, rng, "cancel", &s.metrics.Cancel)
		case r < c.BookingRatio+c.CancelRatio+c.CompleteRatio:
			s.doTransition(ctx, rng, "complete", &s.metrics.Complete)
		default:
			if rng.Intn(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doListByPatient(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	target := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	dni := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	var out struct {
		ID uuid.UUID `json:"id"`
	}
	start := time.Now()
	status, err := s.send(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", map[string]string{
		"patient_dni":    dni,
		"schedule_id":    target.ScheduleID.String(),
		"slot_id":        target.SlotID.String(),
		"payment_method": "card",
	}, &out)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Booking.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusCreated && out.ID != uuid.Nil {
		s.pool.AddAppointment(out.ID)
	}
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand, action string, om *OperationMetrics) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.send(ctx, http.MethodPost, fmt.Sprintf("%s/appointments/%s/%s", s.config.APIBaseURL, id, action), nil, nil)
	if ctx.Err() != nil {
		return
	}
	om.Record(time.Since(start), status, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.send(ctx, http.MethodGet, fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, id), nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ReadByID.Record(time.Since(start), status, err)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	dni := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, err := s.send(ctx, http.MethodGet, fmt.Sprintf("%s/appointments?patient_dni=%s&limit=20", s.config.APIBaseURL, dni), nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ListByPatient.Record(time.Since(start), status, err)
}

// send issues a JSON request. out is decoded only on 2xx.
func (s *Simulator) send(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport(race raceResult) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Race: rounds=%d double_bookings=%d no_winner=%d\n", race.Rounds, race.DoubleBookings, race.NoWinner)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Complete", &s.metrics.Complete)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := om.Total.Load()
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success, conflict, failed := om.Success.Load(), om.Conflict.Load(), om.Error.Load()
	st := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s p99=%s\n",
		st.Avg.Round(time.Millisecond), st.Min.Round(time.Millisecond), st.Max.Round(time.Millisecond),
		st.P50.Round(time.Millisecond), st.P95.Round(time.Millisecond), st.P99.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
