package batch

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// watermark tracks the count of leading lines that are done while lines
// complete out of order.
type watermark struct {
	next int
	done map[int]bool
}

func newWatermark(start int) *watermark {
	return &watermark{next: start, done: make(map[int]bool)}
}

func (w *watermark) complete(line int) {
	if line < w.next {
		return
	}
	w.done[line] = true
	for w.done[w.next] {
		delete(w.done, w.next)
		w.next++
	}
}

func (w *watermark) value() int { return w.next }

func (r *Runner) complete(line int) {
	r.progressMutex.Lock()
	r.watermark.complete(line)
	r.completions++
	save := r.completions%r.opts.SaveEvery == 0
	r.progressMutex.Unlock()

	if save {
		r.saveProgress()
	}
}

func (r *Runner) saveProgress() {
	if r.opts.ProgressFile == "" {
		return
	}
	r.progressMutex.Lock()
	defer r.progressMutex.Unlock()
	data := []byte(fmt.Sprintf("%d\n", r.watermark.value()))
	if err := os.WriteFile(r.opts.ProgressFile, data, 0o644); err != nil {
		r.logger.Error().Err(err).Str("file", r.opts.ProgressFile).Msg("saving batch progress failed")
	}
}

func (r *Runner) loadProgress() int {
	if r.opts.ProgressFile == "" {
		return 0
	}
	data, err := os.ReadFile(r.opts.ProgressFile)
	if err != nil {
		return 0
	}
	lineNum, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || lineNum < 0 {
		return 0
	}
	return lineNum
}
