package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"webextract/internal/pkg/apperr"
	bloomfilter "webextract/internal/pkg/filter"
	"webextract/internal/pkg/metrics"
)

// Kind is the operation an event records.
type Kind string

const (
	KindSearch Kind = "search"
	KindScrape Kind = "scrape"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultMaxInFlight = 64
	opNotify           = "history"
)

var (
	errNotifierClosed = errors.New("notifier closed")
	errSaturated      = errors.New("too many history events in flight")
)

// Event is one history record.
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"entry_type"`
	Subject   string          `json:"query"`
	Topic     string          `json:"topic"`
	Summary   string          `json:"summary"`
	Domain    string          `json:"domain,omitempty"`
	Result    json.RawMessage `json:"full_result,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Options tunes a Notifier.
type Options struct {
	Timeout     time.Duration
	MaxInFlight int
	// Seen skips events already recorded; nil records everything.
	Seen *bloomfilter.SeenSet
}

// Notifier delivers history events in the background. Notify never blocks
// on the sink and never reports an error to the caller.
type Notifier struct {
	sink    Sink
	opts    Options
	slots   chan struct{}
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewNotifier(sink Sink, opts Options, logger zerolog.Logger, m *metrics.Metrics) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	return &Notifier{
		sink:    sink,
		opts:    opts,
		slots:   make(chan struct{}, opts.MaxInFlight),
		now:     time.Now,
		logger:  logger.With().Str("component", "history").Logger(),
		metrics: m,
	}
}

// Notify schedules an event for subject. result is encoded as the full
// result payload. When the notifier is closed or saturated the event is
// dropped and counted as a failure.
func (n *Notifier) Notify(kind Kind, subject, summary, domain string, result any) {
	if n == nil || n.sink == nil {
		return
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.fail(apperr.HistoryLogging(opNotify, errNotifierClosed), kind, subject)
		return
	}
	select {
	case n.slots <- struct{}{}:
	default:
		n.mu.Unlock()
		n.fail(apperr.HistoryLogging(opNotify, errSaturated), kind, subject)
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()

	at := n.now().UTC()
	go func() {
		defer n.wg.Done()
		defer func() { <-n.slots }()
		n.deliver(kind, subject, summary, domain, result, at)
	}()
}

func (n *Notifier) deliver(kind Kind, subject, summary, domain string, result any, at time.Time) {
	payload, err := json.Marshal(result)
	if err != nil {
		n.fail(apperr.HistoryLogging(opNotify, err), kind, subject)
		return
	}
	if n.opts.Seen != nil && n.opts.Seen.CheckAndMark(digest(kind, subject, payload)) {
		n.logger.Debug().Str("kind", string(kind)).Str("subject", subject).Msg("history event already recorded")
		return
	}

	event := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Subject:   subject,
		Topic:     Topic(subject, kind),
		Summary:   summary,
		Domain:    domain,
		Result:    payload,
		Timestamp: at,
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.opts.Timeout)
	defer cancel()
	if err := n.sink.Record(ctx, event); err != nil {
		n.fail(apperr.HistoryLogging(opNotify, err), kind, subject)
		return
	}
	n.logger.Debug().Str("id", event.ID).Str("sink", n.sink.Name()).Msg("history event recorded")
}

func (n *Notifier) fail(err error, kind Kind, subject string) {
	n.metrics.HistoryFailed()
	n.logger.Warn().Err(err).Str("kind", string(kind)).Str("subject", subject).Msg("history logging failed")
}

// Close stops accepting events and waits for in-flight deliveries until ctx
// is done.
func (n *Notifier) Close(ctx context.Context) error {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if n.opts.Seen != nil {
		if err := n.opts.Seen.Flush(); err != nil {
			n.logger.Warn().Err(err).Msg("flushing seen set failed")
		}
	}
	return nil
}

// Topic is the first five words longer than three letters, lowercased.
func Topic(subject string, kind Kind) string {
	var words []string
	for _, w := range strings.Fields(subject) {
		if len(w) > 3 {
			words = append(words, w)
			if len(words) == 5 {
				break
			}
		}
	}
	if len(words) == 0 {
		return "general_" + string(kind)
	}
	return strings.ToLower(strings.Join(words, " "))
}

func digest(kind Kind, subject string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
