// Package history keeps the wake-up log and the statistics derived
// from it: totals, streaks of verified wake-ups, average time-to-wake
// and the verification success rate.
package history

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ikkeifujio/WakeOrPay/internal/model"
)

// RecordStore persists the history blob.
type RecordStore interface {
	LoadHistory() ([]model.WakeUpRecord, error)
	SaveHistory(records []model.WakeUpRecord) error
}

// Statistics summarize the wake-up history.
type Statistics struct {
	TotalWakeUps      int
	CurrentStreak     int // consecutive days with a verified wake-up, ending today or yesterday
	LongestStreak     int
	AverageTimeToWake time.Duration // over verified wake-ups
	SuccessRate       float64       // verified / total
}

// Service owns the in-memory history and persists on every append.
type Service struct {
	store RecordStore
	now   func() time.Time

	mu      sync.Mutex
	records []model.WakeUpRecord
}

// NewService loads the persisted history. A corrupt blob starts empty.
func NewService(store RecordStore) *Service {
	s := &Service{store: store, now: time.Now}
	records, err := store.LoadHistory()
	if err != nil {
		log.Printf("history: load: %v", err)
	}
	s.records = records
	return s
}

// Record appends a resolved session outcome. Implements the session
// machine's history hook.
func (s *Service) Record(rec model.WakeUpRecord) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	err := s.store.SaveHistory(s.records)
	s.mu.Unlock()
	if err != nil {
		log.Printf("history: save: %v", err)
	}
}

// Records returns a copy of the history, oldest first.
func (s *Service) Records() []model.WakeUpRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.WakeUpRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Stats computes the summary over the full history.
func (s *Service) Stats() Statistics {
	s.mu.Lock()
	records := make([]model.WakeUpRecord, len(s.records))
	copy(records, s.records)
	s.mu.Unlock()

	stats := Statistics{TotalWakeUps: len(records)}
	if len(records) == 0 {
		return stats
	}

	verified := 0
	var totalTime time.Duration
	daySet := map[string]bool{}
	for _, rec := range records {
		if !rec.Verified {
			continue
		}
		verified++
		totalTime += rec.TimeToWake
		daySet[rec.Date.Format("2006-01-02")] = true
	}
	stats.SuccessRate = float64(verified) / float64(len(records))
	if verified > 0 {
		stats.AverageTimeToWake = totalTime / time.Duration(verified)
	}

	stats.CurrentStreak, stats.LongestStreak = streaks(daySet, s.now())
	return stats
}

// streaks scans the distinct days with a verified wake-up for the
// longest run of consecutive days, and the run ending today or
// yesterday (yesterday keeps the streak alive before today's alarm has
// rung).
func streaks(daySet map[string]bool, now time.Time) (current, longest int) {
	if len(daySet) == 0 {
		return 0, 0
	}
	days := make([]string, 0, len(daySet))
	for d := range daySet {
		days = append(days, d)
	}
	sort.Strings(days)

	parse := func(s string) time.Time {
		t, _ := time.Parse("2006-01-02", s)
		return t
	}

	run := 1
	longest = 1
	for i := 1; i < len(days); i++ {
		if parse(days[i]).Sub(parse(days[i-1])) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	last := parse(days[len(days)-1])
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	gap := today.Sub(last)
	if gap == 0 || gap == 24*time.Hour {
		current = run
	}
	return current, longest
}
