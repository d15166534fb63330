package crawler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/pdfcrawl/internal/model"
)

// frontier is the FIFO queue of pages waiting to be crawled.
// It is owned by the scheduling goroutine and needs no locking.
type frontier struct {
	items  []model.Target
	queued map[string]struct{}
}

func newFrontier() *frontier {
	return &frontier{queued: make(map[string]struct{})}
}

// push enqueues t unless its URL was queued before. It reports whether t was added.
func (f *frontier) push(t model.Target) bool {
	key := visitKey(t.URL)
	if _, dup := f.queued[key]; dup {
		return false
	}
	f.queued[key] = struct{}{}
	f.items = append(f.items, t)
	return true
}

// popBatch removes and returns up to n targets in FIFO order.
func (f *frontier) popBatch(n int) []model.Target {
	if n > len(f.items) {
		n = len(f.items)
	}
	batch := f.items[:n:n]
	f.items = f.items[n:]
	return batch
}

func (f *frontier) len() int {
	return len(f.items)
}

// runState is the mutable state of one crawl run shared by all workers:
// the visited set, the PDF records and the status counters.
// Every accessor takes the lock; snapshots are copies.
type runState struct {
	id      string
	mu      sync.Mutex
	status  model.CrawlStatus
	visited map[string]struct{}
	pdfSeen map[string]struct{}
	records []model.PDFRecord

	stopReq atomic.Bool

	// emit receives a copy of every change. It must not block.
	emit func(model.Event)
}

func newRunState(runID, seed string, maxDepth int, emit func(model.Event)) *runState {
	if emit == nil {
		emit = func(model.Event) {}
	}
	return &runState{
		status: model.CrawlStatus{
			RunID:     runID,
			SeedURL:   seed,
			MaxDepth:  maxDepth,
			State:     model.StateRunning,
			IsRunning: true,
			StartedAt: time.Now(),
		},
		visited: make(map[string]struct{}),
		pdfSeen: make(map[string]struct{}),
		records: make([]model.PDFRecord, 0),
		emit:    emit,
		id:      runID,
	}
}

// markVisited atomically checks and inserts pageURL into the visited set.
// On first visit it counts the page and raises the current depth.
func (s *runState) markVisited(pageURL string, depth int) bool {
	key := visitKey(pageURL)

	s.mu.Lock()
	if _, ok := s.visited[key]; ok {
		s.mu.Unlock()
		return false
	}
	s.visited[key] = struct{}{}
	s.status.URLsProcessed++
	if depth > s.status.CurrentDepth {
		s.status.CurrentDepth = depth
	}
	snap := s.status
	s.mu.Unlock()

	s.emitStatus(snap)
	return true
}

func (s *runState) isVisited(pageURL string) bool {
	key := visitKey(pageURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.visited[key]
	return ok
}

// reservePDF claims pdfURL for verification. Only the first caller wins.
func (s *runState) reservePDF(pdfURL string) bool {
	key := visitKey(pdfURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pdfSeen[key]; ok {
		return false
	}
	s.pdfSeen[key] = struct{}{}
	return true
}

// addRecord appends rec and returns its index.
func (s *runState) addRecord(rec model.PDFRecord) int {
	s.mu.Lock()
	s.records = append(s.records, rec)
	idx := len(s.records) - 1
	s.status.PDFsFound++
	snap := s.status
	s.mu.Unlock()

	s.emitRecord(model.EventPDFFound, rec)
	s.emitStatus(snap)
	return idx
}

// updateRecord replaces the record at idx.
func (s *runState) updateRecord(idx int, rec model.PDFRecord) {
	s.mu.Lock()
	if idx < 0 || idx >= len(s.records) {
		s.mu.Unlock()
		return
	}
	s.records[idx] = rec
	s.mu.Unlock()

	s.emitRecord(model.EventPDFUpdated, rec)
}

// indexOf returns the index of the record for pdfURL, or -1.
func (s *runState) indexOf(pdfURL string) int {
	key := visitKey(pdfURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if visitKey(r.URL) == key {
			return i
		}
	}
	return -1
}

// downloadable returns the indexes and copies of records still eligible for download.
func (s *runState) downloadable() ([]int, []model.PDFRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var idxs []int
	var recs []model.PDFRecord
	for i, r := range s.records {
		if r.Status.Downloadable() {
			idxs = append(idxs, i)
			recs = append(recs, r.Clone())
		}
	}
	return idxs, recs
}

// requestStop flips the cooperative stop flag and marks the run as no longer running.
// It returns false when the run had already finished or been stopped.
func (s *runState) requestStop() bool {
	if s.stopReq.Swap(true) {
		return false
	}

	s.mu.Lock()
	if s.status.State != model.StateRunning {
		s.mu.Unlock()
		return false
	}
	s.status.IsRunning = false
	s.status.State = model.StateStopped
	snap := s.status
	s.mu.Unlock()

	s.emitStatus(snap)
	return true
}

func (s *runState) stopRequested() bool {
	return s.stopReq.Load()
}

// finish records the terminal state. A fatal error wins over every other outcome.
func (s *runState) finish(fatal error) model.CrawlStatus {
	s.stopReq.Store(true)

	s.mu.Lock()
	switch {
	case fatal != nil:
		s.status.State = model.StateErrored
		s.status.Error = fatal.Error()
	case s.status.State == model.StateRunning:
		s.status.State = model.StateCompleted
	}
	s.status.IsRunning = false
	s.status.FinishedAt = time.Now()
	snap := s.status
	s.mu.Unlock()

	s.emitStatus(snap)
	return snap
}

func (s *runState) snapshotStatus() model.CrawlStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *runState) snapshotResults() model.Results {
	s.mu.Lock()
	defer s.mu.Unlock()
	pdfs := make([]model.PDFRecord, len(s.records))
	for i, r := range s.records {
		pdfs[i] = r.Clone()
	}
	return model.Results{PDFs: pdfs, TotalURLsVisited: len(s.visited)}
}

func (s *runState) emitStatus(st model.CrawlStatus) {
	s.emit(model.Event{Kind: model.EventStatus, RunID: st.RunID, Time: time.Now(), Status: &st})
}

func (s *runState) emitRecord(kind model.EventKind, rec model.PDFRecord) {
	c := rec.Clone()
	s.emit(model.Event{Kind: kind, RunID: s.id, Time: time.Now(), Record: &c})
}
