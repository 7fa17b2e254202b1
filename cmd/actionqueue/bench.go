package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/actionqueue"
	"github.com/velmie/actionqueue/memstore"
)

type benchMode string

const (
	benchEnqueue benchMode = "enqueue"
	benchFlush   benchMode = "flush"
	benchSubmit  benchMode = "submit"
)

const (
	defaultBenchRecords       = 1000
	defaultBenchPayloadBytes  = 256
	defaultBenchProducers     = 4
	defaultBenchBackoff       = time.Millisecond
	defaultBenchDrainTimeout  = time.Minute
	defaultBenchFlushInterval = 100 * time.Millisecond
	percentileP50             = 0.50
	percentileP95             = 0.95
	percentileP99             = 0.99
	microsecondsPerSecond     = 1e6
)

var (
	errInvalidBenchMode = errors.New("invalid bench mode")
	errBenchRecords     = errors.New("records must be positive")
	errDrainTimeout     = errors.New("queue not drained before timeout")
)

var benchKinds = []string{
	actionqueue.KindCompleteQuest,
	actionqueue.KindUpdateProfile,
	actionqueue.KindLogAnalytics,
}

type benchConfig struct {
	mode          benchMode
	records       int
	payloadBytes  int
	payloadRandom bool
	payloadSeed   int64
	producers     int
	latency       time.Duration
	failEvery     int
	rejectEvery   int
	maxRetries    int
	backoff       time.Duration
	flushInterval time.Duration
	drainTimeout  time.Duration
}

type benchResult struct {
	Mode             benchMode `json:"mode"`
	Records          int       `json:"records"`
	Producers        int       `json:"producers"`
	PayloadBytes     int       `json:"payload_bytes"`
	Duration         string    `json:"duration"`
	Throughput       float64   `json:"throughput_per_sec"`
	Sends            int64     `json:"sends"`
	Delivered        int64     `json:"delivered"`
	SavedOffline     int64     `json:"saved_offline"`
	Rejected         int64     `json:"rejected"`
	Retries          int64     `json:"retries"`
	Dropped          int64     `json:"dropped"`
	Passes           int       `json:"passes"`
	Pending          int       `json:"pending"`
	LatencyP50Ms     float64   `json:"latency_p50_ms"`
	LatencyP95Ms     float64   `json:"latency_p95_ms"`
	LatencyP99Ms     float64   `json:"latency_p99_ms"`
	LatencyMaxMs     float64   `json:"latency_max_ms"`
	LatencyMeanMs    float64   `json:"latency_mean_ms"`
	FlushP50Ms       float64   `json:"flush_p50_ms"`
	FlushMaxMs       float64   `json:"flush_max_ms"`
	ProcessUserCPU   float64   `json:"process_user_cpu_seconds"`
	ProcessSystemCPU float64   `json:"process_system_cpu_seconds"`
	GoTotalAlloc     uint64    `json:"go_total_alloc_bytes"`
	GoNumGC          uint32    `json:"go_num_gc"`

	duration time.Duration
}

func newBenchCommand(root *rootOptions) *cobra.Command {
	var (
		cfg  benchConfig
		mode string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure in-memory queue throughput and latency",
		Long: `Run an in-process benchmark against a memory store and a simulated backend.

Modes:
  enqueue  concurrent offline enqueues
  flush    drain a seeded queue through the flush engine
  submit   concurrent submits with immediate send, offline fallback and periodic flush`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := parseBenchMode(mode)
			if err != nil {
				return usageError("bench", err)
			}
			cfg.mode = m
			if cfg.records <= 0 {
				return usageError("bench", errBenchRecords)
			}

			res, err := runBench(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			return root.printer(cmd.OutOrStdout()).success(res, func(w io.Writer) {
				fmt.Fprintf(w,
					"RESULT mode=%s records=%d duration=%s throughput=%.0f/s producers=%d payload=%dB "+
						"delivered=%d offline=%d rejected=%d retries=%d dropped=%d passes=%d pending=%d "+
						"p50=%.2fms p99=%.2fms\n",
					res.Mode, res.Records, res.duration, res.Throughput, res.Producers, res.PayloadBytes,
					res.Delivered, res.SavedOffline, res.Rejected, res.Retries, res.Dropped, res.Passes, res.Pending,
					res.LatencyP50Ms, res.LatencyP99Ms,
				)
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(benchSubmit), "benchmark mode: enqueue, flush or submit")
	cmd.Flags().IntVar(&cfg.records, "records", defaultBenchRecords, "number of actions")
	cmd.Flags().IntVar(&cfg.payloadBytes, "payload-bytes", defaultBenchPayloadBytes, "payload size in bytes")
	cmd.Flags().BoolVar(&cfg.payloadRandom, "payload-random", false, "generate random payload contents")
	cmd.Flags().Int64Var(&cfg.payloadSeed, "payload-seed", 1, "random seed for payload generation")
	cmd.Flags().IntVar(&cfg.producers, "producers", defaultBenchProducers, "concurrent producers (enqueue/submit)")
	cmd.Flags().DurationVar(&cfg.latency, "latency", 0, "simulated backend latency per send")
	cmd.Flags().IntVar(&cfg.failEvery, "fail-every", 0, "make every Nth send fail with a network error (0 disables)")
	cmd.Flags().IntVar(&cfg.rejectEvery, "reject-every", 0, "make every Nth send a backend rejection (0 disables)")
	cmd.Flags().IntVar(&cfg.maxRetries, "max-retries", actionqueue.DefaultConfig().MaxRetries, "retry limit for rejected entries")
	cmd.Flags().DurationVar(&cfg.backoff, "backoff", defaultBenchBackoff, "base and max replay backoff")
	cmd.Flags().DurationVar(&cfg.flushInterval, "flush-interval", defaultBenchFlushInterval, "periodic flush interval (submit)")
	cmd.Flags().DurationVar(&cfg.drainTimeout, "drain-timeout", defaultBenchDrainTimeout, "time allowed to drain the queue")

	return cmd
}

func runBench(ctx context.Context, cfg benchConfig) (benchResult, error) {
	if cfg.producers <= 0 {
		cfg.producers = 1
	}

	// #nosec G404 -- deterministic RNG for benchmark payloads.
	rng := rand.New(rand.NewSource(cfg.payloadSeed))
	data := buildPayloadData(cfg.payloadBytes, cfg.payloadRandom, rng)

	startUsage := readResourceUsage()
	var (
		res benchResult
		err error
	)
	switch cfg.mode {
	case benchEnqueue:
		res, err = runEnqueueBench(ctx, cfg, data)
	case benchFlush:
		res, err = runFlushBench(ctx, cfg, data)
	case benchSubmit:
		res, err = runSubmitBench(ctx, cfg, data)
	default:
		err = fmt.Errorf("%w: %s", errInvalidBenchMode, cfg.mode)
	}
	if err != nil {
		return benchResult{}, err
	}

	usage := deltaUsage(startUsage, readResourceUsage())
	res.Mode = cfg.mode
	res.Records = cfg.records
	res.Producers = cfg.producers
	res.PayloadBytes = len(payloadFor(data, 0))
	res.Duration = res.duration.String()
	if res.duration > 0 {
		res.Throughput = float64(cfg.records) / res.duration.Seconds()
	}
	res.ProcessUserCPU = usage.UserCPUSeconds
	res.ProcessSystemCPU = usage.SystemCPUSeconds
	res.GoTotalAlloc = usage.GoTotalAllocBytes
	res.GoNumGC = usage.GoNumGC

	return res, nil
}

func runEnqueueBench(ctx context.Context, cfg benchConfig, data string) (benchResult, error) {
	metrics := &benchMetrics{}
	queue, err := actionqueue.OpenQueue(ctx, memstore.New(),
		actionqueue.WithMaxQueueSize(cfg.records),
		actionqueue.WithMetrics(metrics),
	)
	if err != nil {
		return benchResult{}, err
	}

	latency := newLatencyStats()
	start := time.Now()
	err = runProducers(ctx, cfg, func(ctx context.Context, seq int) error {
		t0 := time.Now()
		_, err := queue.Enqueue(ctx, benchKind(seq), payloadFor(data, seq))
		latency.Record(time.Since(t0))

		return err
	})
	if err != nil {
		return benchResult{}, err
	}

	res := benchResult{duration: time.Since(start), Pending: queue.Size(), SavedOffline: int64(queue.Size())}
	res.applyLatency(latency.Snapshot())

	return res, nil
}

func runFlushBench(ctx context.Context, cfg benchConfig, data string) (benchResult, error) {
	metrics := &benchMetrics{}
	opts := []actionqueue.Option{
		actionqueue.WithMaxQueueSize(cfg.records),
		actionqueue.WithMaxRetries(cfg.maxRetries),
		actionqueue.WithBackoffDelays(cfg.backoff, cfg.backoff),
		actionqueue.WithMetrics(metrics),
	}
	queue, err := actionqueue.OpenQueue(ctx, memstore.New(), opts...)
	if err != nil {
		return benchResult{}, err
	}
	for seq := 0; seq < cfg.records; seq++ {
		if _, err := queue.Enqueue(ctx, benchKind(seq), payloadFor(data, seq)); err != nil {
			return benchResult{}, fmt.Errorf("seed queue: %w", err)
		}
	}

	transport := newBenchTransport(cfg)
	flusher := actionqueue.NewFlusher(queue, transport, opts...)
	defer flusher.Close()

	drainCtx, cancel := context.WithTimeout(ctx, cfg.drainTimeout)
	defer cancel()

	start := time.Now()
	passes := 0
	for queue.Size() > 0 {
		if drainCtx.Err() != nil {
			return benchResult{}, fmt.Errorf("%w: %d pending after %d passes", errDrainTimeout, queue.Size(), passes)
		}
		if _, err := flusher.Flush(drainCtx); err != nil && drainCtx.Err() == nil {
			return benchResult{}, err
		}
		passes++
	}

	res := metrics.result(time.Since(start))
	res.Sends = transport.calls.Load()
	res.Passes = passes
	res.Pending = queue.Size()
	res.applyLatency(transport.latency.Snapshot())

	return res, nil
}

func runSubmitBench(ctx context.Context, cfg benchConfig, data string) (benchResult, error) {
	metrics := &benchMetrics{}
	transport := newBenchTransport(cfg)
	client, err := actionqueue.New(ctx, memstore.New(), transport,
		actionqueue.WithMaxQueueSize(cfg.records),
		actionqueue.WithMaxRetries(cfg.maxRetries),
		actionqueue.WithBackoffDelays(cfg.backoff, cfg.backoff),
		actionqueue.WithFlushInterval(cfg.flushInterval),
		actionqueue.WithMetrics(metrics),
	)
	if err != nil {
		return benchResult{}, err
	}
	defer client.Close()

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go func() {
		_ = client.Run(runCtx)
	}()

	var rejected atomic.Int64
	latency := newLatencyStats()
	start := time.Now()
	err = runProducers(ctx, cfg, func(ctx context.Context, seq int) error {
		t0 := time.Now()
		_, err := client.Submit(ctx, benchKind(seq), payloadFor(data, seq))
		latency.Record(time.Since(t0))
		if actionqueue.IsLogic(err) {
			rejected.Add(1)

			return nil
		}

		return err
	})
	if err != nil {
		return benchResult{}, err
	}

	drainCtx, cancel := context.WithTimeout(ctx, cfg.drainTimeout)
	defer cancel()
	passes := 0
	for client.PendingCount() > 0 {
		if drainCtx.Err() != nil {
			return benchResult{}, fmt.Errorf("%w: %d pending after %d passes", errDrainTimeout, client.PendingCount(), passes)
		}
		if _, err := client.FlushNow(drainCtx); err != nil && drainCtx.Err() == nil {
			return benchResult{}, err
		}
		passes++
	}
	stopRun()
	// waits for a triggered pass that may still be recording metrics
	if _, err := client.FlushNow(drainCtx); err != nil && drainCtx.Err() == nil {
		return benchResult{}, err
	}

	res := metrics.result(time.Since(start))
	res.Sends = transport.calls.Load()
	res.Rejected = rejected.Load()
	res.Passes = passes
	res.Pending = client.PendingCount()
	res.applyLatency(latency.Snapshot())

	return res, nil
}

func runProducers(ctx context.Context, cfg benchConfig, produce func(ctx context.Context, seq int) error) error {
	var (
		next     atomic.Int64
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < cfg.producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				seq := int(next.Add(1) - 1)
				if seq >= cfg.records || ctx.Err() != nil {
					return
				}
				if err := produce(ctx, seq); err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})

					return
				}
			}
		}()
	}
	wg.Wait()

	return firstErr
}

// benchTransport simulates a backend with fixed latency and deterministic failures.
type benchTransport struct {
	delay       time.Duration
	failEvery   int64
	rejectEvery int64
	calls       atomic.Int64
	latency     *latencyStats
}

func newBenchTransport(cfg benchConfig) *benchTransport {
	return &benchTransport{
		delay:       cfg.latency,
		failEvery:   int64(cfg.failEvery),
		rejectEvery: int64(cfg.rejectEvery),
		latency:     newLatencyStats(),
	}
}

func (t *benchTransport) Send(ctx context.Context, _ string, _ json.RawMessage) error {
	start := time.Now()
	defer func() { t.latency.Record(time.Since(start)) }()

	n := t.calls.Add(1)
	if t.delay > 0 {
		timer := time.NewTimer(t.delay)
		select {
		case <-ctx.Done():
			timer.Stop()

			return actionqueue.NewTransientError(actionqueue.TransientTimeout, ctx.Err())
		case <-timer.C:
		}
	}
	if t.failEvery > 0 && n%t.failEvery == 0 {
		return actionqueue.NewTransientError(actionqueue.TransientConnection, errors.New("simulated connection refused"))
	}
	if t.rejectEvery > 0 && n%t.rejectEvery == 0 {
		return actionqueue.NewLogicError("bench", "simulated rejection")
	}

	return nil
}

type benchMetrics struct {
	delivered    atomic.Int64
	savedOffline atomic.Int64
	retries      atomic.Int64
	dropped      atomic.Int64
	flushes      latencyStats
}

func (m *benchMetrics) ObserveFlushDuration(d time.Duration) { m.flushes.Record(d) }
func (m *benchMetrics) AddDelivered(n int)                   { m.delivered.Add(int64(n)) }
func (m *benchMetrics) AddSavedOffline(n int)                { m.savedOffline.Add(int64(n)) }
func (m *benchMetrics) AddDeduplicated(int)                  {}
func (m *benchMetrics) AddRetries(n int)                     { m.retries.Add(int64(n)) }
func (m *benchMetrics) AddDropped(n int)                     { m.dropped.Add(int64(n)) }
func (m *benchMetrics) AddEvicted(int)                       {}
func (m *benchMetrics) AddRejected(int)                      {}
func (m *benchMetrics) SetPending(int)                       {}

func (m *benchMetrics) result(d time.Duration) benchResult {
	flushes := m.flushes.Snapshot()

	return benchResult{
		duration:     d,
		Delivered:    m.delivered.Load(),
		SavedOffline: m.savedOffline.Load(),
		Retries:      m.retries.Load(),
		Dropped:      m.dropped.Load(),
		FlushP50Ms:   msFloat(flushes.P50),
		FlushMaxMs:   msFloat(flushes.Max),
	}
}

func (r *benchResult) applyLatency(s latencySnapshot) {
	r.LatencyP50Ms = msFloat(s.P50)
	r.LatencyP95Ms = msFloat(s.P95)
	r.LatencyP99Ms = msFloat(s.P99)
	r.LatencyMaxMs = msFloat(s.Max)
	r.LatencyMeanMs = msFloat(s.Mean)
}

type latencyStats struct {
	mu      sync.Mutex
	samples []time.Duration
}

func newLatencyStats() *latencyStats {
	return &latencyStats{}
}

func (l *latencyStats) Record(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.samples = append(l.samples, d)
	l.mu.Unlock()
}

func (l *latencyStats) Snapshot() latencySnapshot {
	l.mu.Lock()
	samples := append([]time.Duration(nil), l.samples...)
	l.mu.Unlock()
	if len(samples) == 0 {
		return latencySnapshot{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	return latencySnapshot{
		P50:   percentile(samples, percentileP50),
		P95:   percentile(samples, percentileP95),
		P99:   percentile(samples, percentileP99),
		Max:   samples[len(samples)-1],
		Mean:  meanDuration(samples),
		Count: int64(len(samples)),
	}
}

type latencySnapshot struct {
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int64
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(samples)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(samples) {
		idx = len(samples) - 1
	}

	return samples[idx]
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}

	return sum / time.Duration(len(samples))
}

type resourceUsage struct {
	UserCPUSeconds    float64
	SystemCPUSeconds  float64
	GoTotalAllocBytes uint64
	GoNumGC           uint32
}

func readResourceUsage() resourceUsage {
	var usage resourceUsage

	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err == nil {
		usage.UserCPUSeconds = float64(ru.Utime.Sec) + float64(ru.Utime.Usec)/microsecondsPerSecond
		usage.SystemCPUSeconds = float64(ru.Stime.Sec) + float64(ru.Stime.Usec)/microsecondsPerSecond
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage.GoTotalAllocBytes = ms.TotalAlloc
	usage.GoNumGC = ms.NumGC

	return usage
}

func deltaUsage(start, end resourceUsage) resourceUsage {
	return resourceUsage{
		UserCPUSeconds:    end.UserCPUSeconds - start.UserCPUSeconds,
		SystemCPUSeconds:  end.SystemCPUSeconds - start.SystemCPUSeconds,
		GoTotalAllocBytes: end.GoTotalAllocBytes - start.GoTotalAllocBytes,
		GoNumGC:           end.GoNumGC - start.GoNumGC,
	}
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func benchKind(seq int) string {
	return benchKinds[seq%len(benchKinds)]
}

// payloadFor makes every action distinct so nothing is deduplicated.
func payloadFor(data string, seq int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"seq":%d,"data":%q}`, seq, data))
}

func buildPayloadData(size int, random bool, rng *rand.Rand) string {
	const overhead = len(`{"seq":0,"data":""}`)
	dataSize := max(0, size-overhead)
	data := make([]byte, dataSize)
	if random {
		if rng == nil {
			// #nosec G404 -- deterministic RNG for benchmark payloads.
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		for i := range data {
			data[i] = alphabet[rng.Intn(len(alphabet))]
		}
	} else {
		for i := range data {
			data[i] = 'a'
		}
	}

	return string(data)
}

func parseBenchMode(value string) (benchMode, error) {
	switch benchMode(value) {
	case benchEnqueue, benchFlush, benchSubmit:
		return benchMode(value), nil
	default:
		return "", fmt.Errorf("%w: %s", errInvalidBenchMode, value)
	}
}
