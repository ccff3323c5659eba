// Package fusion merges the offline and server detection lists produced for one
// audio window into a single ranked, deduplicated list with explicit provenance.
package fusion

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
)

// Window carries the per-window context copied onto every fused detection.
type Window struct {
	CapturedAt time.Time
	Location   *detection.Location
	Bearing    *detection.Bearing
}

// Policy controls which list is authoritative and how close two results
// must be in time to count as the same call.
type Policy struct {
	PreferServer bool
	DedupWindow  time.Duration

	// NewID generates detection IDs; nil means random UUIDs.
	NewID func() string
}

// PolicyFrom derives a fusion policy from an engine configuration snapshot.
func PolicyFrom(cfg conf.EngineConfig) Policy {
	return Policy{PreferServer: cfg.PreferServer, DedupWindow: cfg.DedupWindow()}
}

// Fuse combines both lists. It performs no I/O and does not mutate its inputs.
//
// With PreferServer and a non-empty server list the server results are
// authoritative; otherwise the offline list is. An entry of the secondary
// list with the same scientific name, within DedupWindow of an authoritative
// entry, merges into a hybrid detection whose confidence is the average of
// both. Each secondary entry merges at most once; the rest are appended with
// their own origin. Repeats of a species within one list and within
// DedupWindow are first reduced to the most confident one.
func Fuse(w Window, server, offline []detection.RawDetection, p Policy) []*detection.Detection {
	server = collapse(server, p.DedupWindow)
	offline = collapse(offline, p.DedupWindow)

	primary, secondary := offline, server
	primaryOrigin, secondaryOrigin := detection.OriginOffline, detection.OriginServer
	if p.PreferServer && len(server) > 0 {
		primary, secondary = server, offline
		primaryOrigin, secondaryOrigin = detection.OriginServer, detection.OriginOffline
	}

	newID := p.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	out := make([]*detection.Detection, 0, len(primary)+len(secondary))
	consumed := make([]bool, len(secondary))

	for _, pr := range primary {
		match := findMatch(pr, secondary, consumed, p.DedupWindow)
		if match < 0 {
			out = append(out, build(w, pr, primaryOrigin, newID))
			continue
		}
		consumed[match] = true
		merged := pr
		merged.Confidence = (pr.Confidence + secondary[match].Confidence) / 2
		if merged.CommonName == "" {
			merged.CommonName = secondary[match].CommonName
		}
		out = append(out, build(w, merged, detection.OriginHybrid, newID))
	}

	for i, sr := range secondary {
		if !consumed[i] {
			out = append(out, build(w, sr, secondaryOrigin, newID))
		}
	}

	slices.SortStableFunc(out, detection.Compare)
	return out
}

// collapse keeps one entry per species and dedup window, the one with the
// highest confidence. Order of first appearance is kept. The input is not
// modified.
func collapse(list []detection.RawDetection, window time.Duration) []detection.RawDetection {
	if len(list) < 2 {
		return list
	}
	out := make([]detection.RawDetection, 0, len(list))
	for _, r := range list {
		i := slices.IndexFunc(out, func(k detection.RawDetection) bool {
			return k.ScientificName == r.ScientificName && k.Timestamp.Sub(r.Timestamp).Abs() <= window
		})
		switch {
		case i < 0:
			out = append(out, r)
		case r.Confidence > out[i].Confidence:
			if r.CommonName == "" {
				r.CommonName = out[i].CommonName
			}
			out[i] = r
		case out[i].CommonName == "":
			out[i].CommonName = r.CommonName
		}
	}
	return out
}

// findMatch returns the closest unconsumed secondary entry for the same
// species within the dedup window, or -1.
func findMatch(pr detection.RawDetection, secondary []detection.RawDetection, consumed []bool, window time.Duration) int {
	best := -1
	var bestDist time.Duration
	for i, sr := range secondary {
		if consumed[i] || sr.ScientificName != pr.ScientificName {
			continue
		}
		dist := pr.Timestamp.Sub(sr.Timestamp).Abs()
		if dist > window {
			continue
		}
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}

func build(w Window, r detection.RawDetection, origin detection.Origin, newID func() string) *detection.Detection {
	d := &detection.Detection{
		ID:             newID(),
		CommonName:     r.CommonName,
		ScientificName: r.ScientificName,
		Confidence:     r.Confidence,
		Timestamp:      r.Timestamp,
		Origin:         origin,
		SyncState:      detection.SyncUnsynced,
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = w.CapturedAt
	}
	if origin == detection.OriginServer {
		d.SyncState = detection.SyncSynced
	}
	if w.Location != nil {
		loc := *w.Location
		d.Location = &loc
	}
	if w.Bearing != nil {
		b := *w.Bearing
		d.Bearing = &b
	}
	return d
}
