package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/orchestrator"
	"webextract/internal/pkg/types"
)

const (
	defaultWorkers   = 8
	defaultSaveEvery = 100
)

// Scraper is the part of the orchestrator a batch needs.
type Scraper interface {
	Scrape(ctx context.Context, req orchestrator.ScrapeRequest) (*orchestrator.ScrapeResult, error)
}

// Options tunes a Runner.
type Options struct {
	Workers int
	// ProgressFile stores the number of input lines fully processed. Empty
	// disables resuming.
	ProgressFile string
	SaveEvery    int
	// Request is the template for every scrape; its URL is replaced.
	Request orchestrator.ScrapeRequest
}

// Record is one output line.
type Record struct {
	Line      int                     `json:"line"`
	URL       string                  `json:"url"`
	Cached    bool                    `json:"cached,omitempty"`
	Truncated bool                    `json:"truncated,omitempty"`
	Result    *types.ExtractionResult `json:"result,omitempty"`
	ErrorKind string                  `json:"error_kind,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// Summary reports what one Run did.
type Summary struct {
	StartLine int
	Succeeded int
	Failed    int
	// Completed is set when the whole input was processed.
	Completed bool
}

type job struct {
	line int
	url  string
}

// Runner scrapes every URL listed in an input file. A reader goroutine
// streams lines to a fixed pool of workers; results are written as JSON
// lines in completion order. Progress is the count of leading lines that
// are fully processed, so an interrupted run resumes without gaps.
type Runner struct {
	scraper Scraper
	opts    Options
	logger  zerolog.Logger

	progressMutex sync.Mutex
	watermark     *watermark
	completions   int

	outMu sync.Mutex
	enc   *json.Encoder

	succeeded atomic.Int64
	failed    atomic.Int64
}

func NewRunner(scraper Scraper, opts Options, logger zerolog.Logger) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.SaveEvery <= 0 {
		opts.SaveEvery = defaultSaveEvery
	}
	return &Runner{
		scraper: scraper,
		opts:    opts,
		logger:  logger.With().Str("component", "batch").Logger(),
	}
}

// Run processes inputPath from the saved progress line and writes one
// Record per URL to out. A finished run resets the saved progress so the
// next run starts over; a canceled run keeps it.
func (r *Runner) Run(ctx context.Context, inputPath string, out io.Writer) (Summary, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return Summary{}, fmt.Errorf("open batch input: %w", err)
	}
	defer file.Close()

	start := r.loadProgress()
	scanner := bufio.NewScanner(file)
	if err := skipLines(scanner, start); err != nil {
		r.logger.Warn().Err(err).Int("progress", start).Msg("saved progress is past the input, starting over")
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return Summary{}, fmt.Errorf("rewind batch input: %w", err)
		}
		start = 0
		scanner = bufio.NewScanner(file)
	}

	r.watermark = newWatermark(start)
	r.completions = 0
	r.enc = json.NewEncoder(out)
	r.succeeded.Store(0)
	r.failed.Store(0)
	r.logger.Info().Str("input", inputPath).Int("start_line", start).Int("workers", r.opts.Workers).Msg("batch started")

	jobs := make(chan job, r.opts.Workers*2)
	var readErr error
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		readErr = r.read(ctx, scanner, start, jobs)
	}()

	for i := range r.opts.Workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id, jobs)
		}(i)
	}
	wg.Wait()

	summary := Summary{
		StartLine: start,
		Succeeded: int(r.succeeded.Load()),
		Failed:    int(r.failed.Load()),
	}
	switch {
	case readErr != nil:
		r.saveProgress()
		return summary, fmt.Errorf("read batch input: %w", readErr)
	case ctx.Err() != nil:
		r.saveProgress()
		r.logger.Info().Int("progress", r.watermark.value()).Msg("batch interrupted")
		return summary, ctx.Err()
	}

	summary.Completed = true
	r.progressMutex.Lock()
	r.watermark = newWatermark(0)
	r.progressMutex.Unlock()
	r.saveProgress()
	r.logger.Info().Int("succeeded", summary.Succeeded).Int("failed", summary.Failed).Msg("batch finished")
	return summary, nil
}

func (r *Runner) read(ctx context.Context, scanner *bufio.Scanner, start int, jobs chan<- job) error {
	line := start
	for scanner.Scan() {
		target := parseLine(scanner.Text())
		if target == "" {
			r.complete(line)
		} else {
			select {
			case jobs <- job{line: line, url: target}:
			case <-ctx.Done():
				return nil
			}
		}
		line++
	}
	return scanner.Err()
}

func (r *Runner) worker(ctx context.Context, id int, jobs <-chan job) {
	for j := range jobs {
		if ctx.Err() != nil {
			continue
		}
		req := r.opts.Request
		req.URL = j.url
		res, err := r.scraper.Scrape(ctx, req)
		if err != nil && ctx.Err() != nil {
			// Left unfinished so a rerun picks it up.
			continue
		}

		rec := Record{Line: j.line, URL: j.url}
		if err != nil {
			r.failed.Add(1)
			rec.ErrorKind = string(apperr.KindOf(err))
			rec.Error = apperr.UserMessage(err)
			r.logger.Warn().Err(err).Int("worker", id).Str("url", j.url).Msg("batch scrape failed")
		} else {
			r.succeeded.Add(1)
			rec.Cached = res.Cached
			rec.Truncated = res.Truncated
			rec.Result = res.Result
			r.logger.Debug().Int("worker", id).Str("url", j.url).Str("title", res.Result.Title).Msg("batch scrape done")
		}
		if err := r.write(rec); err != nil {
			r.logger.Error().Err(err).Int("line", j.line).Msg("writing batch record failed")
			continue
		}
		r.complete(j.line)
	}
}

func (r *Runner) write(rec Record) error {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	return r.enc.Encode(rec)
}

// Accepts a bare URL or domain, or a "rank,domain" ranking row. Blank
// lines and # comments yield "".
func parseLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "#") {
		return ""
	}
	if rank, rest, ok := strings.Cut(s, ","); ok && isDigits(rank) {
		s = strings.TrimSpace(rest)
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func skipLines(scanner *bufio.Scanner, n int) error {
	currentLine := 0
	for currentLine < n {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("skipping lines: %w", err)
			}
			return fmt.Errorf("reached EOF after skipping %d lines, expected %d", currentLine, n)
		}
		currentLine++
	}
	return nil
}
