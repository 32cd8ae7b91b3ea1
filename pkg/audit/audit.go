// Package audit records investment decisions in a tamper-evident hash chain.
// Every policy decision, commit, and rollback is appended; a broken chain
// means the trail was altered after the fact.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Actions recorded on the trail.
const (
	ActionPolicyAllow = "policy.allow"
	ActionPolicyDeny  = "policy.deny"
	ActionCommit      = "invest.commit"
	ActionRollback    = "invest.rollback"
	ActionGrant       = "funds.grant"
)

// Event is the domain payload of one audit record.
type Event struct {
	TenantID    string `json:"tenant_id"`
	PrincipalID string `json:"principal_id"`
	ResourceID  string `json:"resource_id,omitempty"`
	Action      string `json:"action"`
	Rule        string `json:"rule,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Record is one chained entry: its hash covers the previous hash, the
// timestamp, and the serialized event.
type Record struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Event        Event  `json:"event"`
	Hash         string `json:"hash"`
}

// Sink persists records as they are appended. Appends must be durable in
// order; the recorder will not reorder around a slow sink.
type Sink interface {
	Write(record *Record) error
}

// Recorder maintains the hash chain in memory and mirrors every record to an
// optional sink.
type Recorder struct {
	mu           sync.Mutex
	previousHash string
	sink         Sink
}

// NewRecorder creates a recorder starting a fresh chain at the zero hash.
func NewRecorder(sink Sink) *Recorder {
	return NewRecorderFrom(sink, "")
}

// NewRecorderFrom creates a recorder that continues an existing chain at
// previousHash, so a trail persisted across restarts keeps verifying. The
// empty string starts a fresh chain.
func NewRecorderFrom(sink Sink, previousHash string) *Recorder {
	if previousHash == "" {
		previousHash = strings.Repeat("0", 64)
	}
	return &Recorder{
		previousHash: previousHash,
		sink:         sink,
	}
}

func hashRecord(previousHash, timestamp string, event Event) string {
	payload, _ := json.Marshal(event)
	sum := sha256.Sum256([]byte(previousHash + "|" + timestamp + "|" + string(payload)))
	return hex.EncodeToString(sum[:])
}

// Append chains and persists one event, returning the record.
func (r *Recorder) Append(event Event) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := &Record{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		PreviousHash: r.previousHash,
		Event:        event,
	}
	record.Hash = hashRecord(record.PreviousHash, record.Timestamp, record.Event)

	if r.sink != nil {
		if err := r.sink.Write(record); err != nil {
			return nil, err
		}
	}
	r.previousHash = record.Hash
	return record, nil
}

// VerifyChain checks that records form an unbroken, untampered chain.
func VerifyChain(records []*Record) bool {
	for i, record := range records {
		if i > 0 && record.PreviousHash != records[i-1].Hash {
			return false
		}
		if hashRecord(record.PreviousHash, record.Timestamp, record.Event) != record.Hash {
			return false
		}
	}
	return true
}
