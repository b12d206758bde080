package parking

import (
	"sync"
	"time"
)

// ArrivalRecord is one entry of the gate log: every arrival attempt,
// assigned or not.
type ArrivalRecord struct {
	Plate     string       `json:"plate"`
	Gate      string       `json:"gate,omitempty"`
	Time      time.Time    `json:"time"`
	Outcome   Outcome      `json:"outcome"`
	Reason    RejectReason `json:"reason,omitempty"`
	SlotID    string       `json:"slot_id,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
}

type arrivalLog struct {
	mu      sync.Mutex
	records []ArrivalRecord
	next    int
	full    bool
}

func newArrivalLog(size int) *arrivalLog {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &arrivalLog{records: make([]ArrivalRecord, size)}
}

func (l *arrivalLog) add(r ArrivalRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records[l.next] = r
	l.next = (l.next + 1) % len(l.records)
	if l.next == 0 {
		l.full = true
	}
}

// recent returns up to limit records, newest first.
func (l *arrivalLog) recent(limit int) []ArrivalRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.records)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]ArrivalRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.records)) % len(l.records)
		out = append(out, l.records[idx])
	}
	return out
}
