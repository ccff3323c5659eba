// Package detection provides the domain models shared by the hybrid engine:
// provenance-tagged detections, raw adapter output and durable sync queue
// entries. The models are independent of any storage schema.
package detection

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Origin records which classifier produced a detection.
type Origin string

const (
	OriginOffline Origin = "offline"
	OriginServer  Origin = "server"
	OriginHybrid  Origin = "hybrid" // both sources reported the species for the same window
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginOffline, OriginServer, OriginHybrid:
		return true
	}
	return false
}

// SyncState tracks delivery of offline and hybrid detections to the remote store.
type SyncState string

const (
	SyncUnsynced SyncState = "unsynced"
	SyncPending  SyncState = "pending"
	SyncSynced   SyncState = "synced"
	SyncFailed   SyncState = "failed"
)

// Location is an optional capture position in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Bearing is a direction-of-arrival estimate. Negative angles are left of center.
type Bearing struct {
	AngleDegrees float64 `json:"angleDegrees"` // [-90, 90]
	Confidence   float64 `json:"confidence"`   // [0, 1]
}

// Detection represents one species identified in one audio window.
type Detection struct {
	ID             string    `json:"id"`
	CommonName     string    `json:"commonName"`
	ScientificName string    `json:"scientificName"` // dedup key
	Confidence     float64   `json:"confidence"`
	Timestamp      time.Time `json:"timestamp"`
	Location       *Location `json:"location,omitempty"`
	Bearing        *Bearing  `json:"bearing,omitempty"`
	Origin         Origin    `json:"origin"`
	SyncState      SyncState `json:"syncState"`
}

// Eligible reports whether the detection may be (re)delivered to the remote store.
// Only offline and hybrid detections that are unsynced or failed qualify.
func (d *Detection) Eligible() bool {
	if d == nil {
		return false
	}
	if d.Origin != OriginOffline && d.Origin != OriginHybrid {
		return false
	}
	return d.SyncState == SyncUnsynced || d.SyncState == SyncFailed
}

// Clone returns a deep copy, so callers can hand detections to observers safely.
func (d *Detection) Clone() *Detection {
	if d == nil {
		return nil
	}
	c := *d
	if d.Location != nil {
		loc := *d.Location
		c.Location = &loc
	}
	if d.Bearing != nil {
		b := *d.Bearing
		c.Bearing = &b
	}
	return &c
}

// RawDetection is the output of a detection source adapter before fusion.
type RawDetection struct {
	CommonName     string
	ScientificName string
	Confidence     float64
	Timestamp      time.Time
}

// Prediction is a single classifier output before names and timestamps are attached.
type Prediction struct {
	ScientificName string
	Confidence     float64
}

// CompareRaw orders by confidence descending, ties by scientific name.
func CompareRaw(a, b RawDetection) int {
	if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
		return c
	}
	return strings.Compare(a.ScientificName, b.ScientificName)
}

// Compare orders detections by confidence descending, ties by scientific name.
func Compare(a, b *Detection) int {
	if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
		return c
	}
	return strings.Compare(a.ScientificName, b.ScientificName)
}

// FilterAndSort drops results below minConfidence and returns the rest in rank order.
// The input slice is not modified.
func FilterAndSort(raw []RawDetection, minConfidence float64) []RawDetection {
	out := make([]RawDetection, 0, len(raw))
	for _, r := range raw {
		if r.Confidence >= minConfidence {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, CompareRaw)
	return out
}
