package model

import (
	"encoding/json"
	"time"
)

// Table names a watched collection of the change feed.
type Table string

const (
	TableRequests      Table = "requests"
	TableProfiles      Table = "profiles"
	TableVerifications Table = "verifications"
	TableEvents        Table = "donation_events"
)

// WatchedTables lists every table the feed publishes.
var WatchedTables = []Table{TableRequests, TableProfiles, TableVerifications, TableEvents}

// Op is the row operation carried by a change event.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ChangeEvent is one committed row change. Old is set for UPDATE/DELETE, New for INSERT/UPDATE.
type ChangeEvent struct {
	Seq   int64           `json:"seq"`
	Table Table           `json:"table"`
	Op    Op              `json:"op"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

// Snapshot is a full fetch of the replicated collections. Donors holds role=donor profiles only.
type Snapshot struct {
	AsOfSeq       int64               `json:"as_of_seq"`
	TakenAt       time.Time           `json:"taken_at"`
	Requests      []BloodRequest      `json:"requests"`
	Donors        []DonorProfile      `json:"donors"`
	Verifications []VerificationProof `json:"verifications"`
	Events        []DonationEvent     `json:"events"`
}

// Stats are derived counters maintained incrementally by the replica.
type Stats struct {
	PendingRequests      int `json:"pending_requests"`
	CriticalPending      int `json:"critical_pending"`
	TotalDonors          int `json:"total_donors"`
	VerifiedDonors       int `json:"verified_donors"`
	AvailableDonors      int `json:"available_donors"`
	PendingVerifications int `json:"pending_verifications"`
	ActiveEvents         int `json:"active_events"`
	LivesSaved           int `json:"lives_saved"`
}

// Add returns s + o field-wise.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		PendingRequests:      s.PendingRequests + o.PendingRequests,
		CriticalPending:      s.CriticalPending + o.CriticalPending,
		TotalDonors:          s.TotalDonors + o.TotalDonors,
		VerifiedDonors:       s.VerifiedDonors + o.VerifiedDonors,
		AvailableDonors:      s.AvailableDonors + o.AvailableDonors,
		PendingVerifications: s.PendingVerifications + o.PendingVerifications,
		ActiveEvents:         s.ActiveEvents + o.ActiveEvents,
		LivesSaved:           s.LivesSaved + o.LivesSaved,
	}
}

// Sub returns s - o field-wise.
func (s Stats) Sub(o Stats) Stats {
	return s.Add(o.neg())
}

func (s Stats) neg() Stats {
	return Stats{
		PendingRequests:      -s.PendingRequests,
		CriticalPending:      -s.CriticalPending,
		TotalDonors:          -s.TotalDonors,
		VerifiedDonors:       -s.VerifiedDonors,
		AvailableDonors:      -s.AvailableDonors,
		PendingVerifications: -s.PendingVerifications,
		ActiveEvents:         -s.ActiveEvents,
		LivesSaved:           -s.LivesSaved,
	}
}

// FeedFrame is one message of a change stream: a snapshot or an event.
type FeedFrame struct {
	Snapshot *Snapshot    `json:"snapshot,omitempty"`
	Event    *ChangeEvent `json:"event,omitempty"`
}
