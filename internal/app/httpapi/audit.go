package httpapi

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/R3E-Network/issuance_ledger/pkg/logger"
)

const defaultAuditSize = 200

// auditEntry is one mutating request seen by the API.
type auditEntry struct {
	Time       time.Time `json:"time"`
	Caller     string    `json:"caller"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	RequestID  string    `json:"request_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// rejected reports whether the ledger refused the request.
func (e auditEntry) rejected() bool { return e.Status >= 400 }

// auditQuery narrows a read of the audit ring. Zero values match everything.
type auditQuery struct {
	Caller       string
	RejectedOnly bool
	Limit        int
}

func (q auditQuery) matches(e auditEntry) bool {
	if q.Caller != "" && e.Caller != q.Caller {
		return false
	}
	return !q.RejectedOnly || e.rejected()
}

// auditLog keeps the most recent entries in a fixed ring and mirrors each one
// to an optional sink.
type auditLog struct {
	mu    sync.Mutex
	ring  []auditEntry
	next  int
	full  bool
	sink  auditSink
	log   *logger.Logger
	fails int
}

type auditSink interface {
	Write(entry auditEntry) error
}

func newAuditLog(size int, sink auditSink, log *logger.Logger) *auditLog {
	if size <= 0 {
		size = defaultAuditSize
	}
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &auditLog{ring: make([]auditEntry, size), sink: sink, log: log}
}

func (l *auditLog) add(entry auditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = entry
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}

	if l.sink == nil {
		return
	}
	if err := l.sink.Write(entry); err != nil {
		// The request already completed; report the first failure and every
		// hundredth after it instead of failing the caller.
		if l.fails%100 == 0 {
			l.log.WithError(err).WithField("failures", l.fails+1).Warn("audit sink write failed")
		}
		l.fails++
	}
}

// query returns matching entries, oldest first, keeping the newest Limit.
func (l *auditLog) query(q auditQuery) []auditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	start, n := 0, l.next
	if l.full {
		start, n = l.next, len(l.ring)
	}
	out := make([]auditEntry, 0, n)
	for i := 0; i < n; i++ {
		e := l.ring[(start+i)%len(l.ring)]
		if q.matches(e) {
			out = append(out, e)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// fileAuditSink appends one JSON document per line.
type fileAuditSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	f   *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{enc: json.NewEncoder(f), f: f}, nil
}

func (s *fileAuditSink) Write(entry auditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(entry)
}
