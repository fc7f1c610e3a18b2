// Package models defines the records kept in the sender's chunk buffer.
package models

import (
	"sort"
	"time"
)

// MaxRetryErrors bounds the per-chunk error history.
const MaxRetryErrors = 5

// ChunkRecord is one buffered chunk, or the end marker of a stream when
// IsEndMarker is set (Data is then nil). When Encrypted is set, Data holds a
// serialized cryptox.WirePacket instead of raw bytes.
type ChunkRecord struct {
	ID          string        `json:"id"`
	FileName    string        `json:"fileName"`
	ChunkIndex  int           `json:"chunkIndex"`
	Data        []byte        `json:"data,omitempty"`
	SessionID   string        `json:"sessionId,omitempty"`
	IsEndMarker bool          `json:"isEndMarker"`
	Encrypted   bool          `json:"encrypted,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	Retry       RetryMetadata `json:"retry"`
}

// RetryMetadata tracks failed delivery attempts of a chunk.
type RetryMetadata struct {
	RetryCount  int       `json:"retryCount"`
	LastAttempt time.Time `json:"lastAttempt,omitempty"`
	NextRetry   time.Time `json:"nextRetry,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
}

// RecordFailure counts one failed attempt and keeps only the newest
// MaxRetryErrors messages.
func (m *RetryMetadata) RecordFailure(err error, at, next time.Time) {
	m.RetryCount++
	m.LastAttempt = at
	m.NextRetry = next
	if err != nil {
		m.Errors = append(m.Errors, err.Error())
	}
	if n := len(m.Errors); n > MaxRetryErrors {
		m.Errors = append([]string(nil), m.Errors[n-MaxRetryErrors:]...)
	}
}

// Filter selects records of one file and, optionally, one session. Empty
// fields match everything.
type Filter struct {
	FileName  string
	SessionID string
}

func (f Filter) Match(r *ChunkRecord) bool {
	if f.FileName != "" && r.FileName != f.FileName {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	return true
}

// SortGroup orders one file's records session by session, sessions in
// order of first appearance, and within a session by chunk index with the
// end marker after every data chunk. Streams sharing a file name therefore
// never interleave.
func SortGroup(records []*ChunkRecord) {
	rank := make(map[string]int)
	for _, r := range records {
		if _, ok := rank[r.SessionID]; !ok {
			rank[r.SessionID] = len(rank)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if ra, rb := rank[a.SessionID], rank[b.SessionID]; ra != rb {
			return ra < rb
		}
		if a.IsEndMarker != b.IsEndMarker {
			return b.IsEndMarker
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}

// FileGroup is the ordered view of one file's buffered records.
type FileGroup struct {
	FileName string
	Records  []*ChunkRecord
}

// GroupByFile splits records into ordered groups. Groups come back in order
// of first appearance, so callers see files in a stable order.
func GroupByFile(records []*ChunkRecord) []FileGroup {
	index := make(map[string]int)
	var groups []FileGroup
	for _, r := range records {
		i, ok := index[r.FileName]
		if !ok {
			i = len(groups)
			index[r.FileName] = i
			groups = append(groups, FileGroup{FileName: r.FileName})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	for i := range groups {
		SortGroup(groups[i].Records)
	}
	return groups
}

// FileSummary describes what is buffered for one file.
type FileSummary struct {
	FileName     string
	Chunks       int
	HasEndMarker bool
	Sessions     []string
}
