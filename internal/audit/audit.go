// Package audit cross-checks puzzle records against the event log.
//
// Every committed bridge emits exactly one bridge.completed event, so the
// per-seed counters can be rebuilt by replaying those events. A seed whose
// rebuilt counters differ from its stored record is reported as a mismatch.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/AaronLay10/EnharmonicGap/internal/events"
	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
	"github.com/AaronLay10/EnharmonicGap/internal/storage/postgres"
)

const bridgeEvent = "bridge.completed"

// Record is the part of a logged event the audit reads.
type Record struct {
	Name   string
	Fields map[string]interface{}
}

// FromRows converts persisted event rows.
func FromRows(rows []postgres.EventRow) []Record {
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Record{Name: r.Event, Fields: r.Fields})
	}
	return out
}

// FromEvents converts events held in the in-process buffer.
func FromEvents(evs []events.Event) []Record {
	out := make([]Record, 0, len(evs))
	for _, e := range evs {
		out = append(out, Record{Name: e.Name, Fields: e.Fields})
	}
	return out
}

// Counts are the counters rebuilt for one seed.
type Counts struct {
	Total   uint64 `json:"total_bridges"`
	A       uint64 `json:"pathway_a_count"`
	B       uint64 `json:"pathway_b_count"`
	C       uint64 `json:"pathway_c_count"`
	Rewards uint64 `json:"rewards"`
}

func countsOf(st puzzle.State) Counts {
	return Counts{
		Total: st.TotalBridges,
		A:     st.PathwayACount,
		B:     st.PathwayBCount,
		C:     st.PathwayCCount,
	}
}

// matches compares the counters a puzzle record stores. Rewards are not
// part of the record and are ignored.
func (c Counts) matches(o Counts) bool {
	return c.Total == o.Total && c.A == o.A && c.B == o.B && c.C == o.C
}

// Rebuild replays bridge.completed records into per-seed counters. Records
// it cannot read are counted in skipped and otherwise ignored.
func Rebuild(recs []Record) (counts map[uint64]*Counts, skipped int) {
	counts = make(map[uint64]*Counts)
	for _, r := range recs {
		if r.Name != bridgeEvent {
			continue
		}
		seedID, ok := toUint64(r.Fields["seed_id"])
		if !ok {
			skipped++
			continue
		}
		tag, _ := r.Fields["tag"].(string)
		reward, _ := toUint64(r.Fields["reward"])

		c := counts[seedID]
		if c == nil {
			c = &Counts{}
		}
		switch puzzle.Tag(tag) {
		case puzzle.TagA:
			c.A++
		case puzzle.TagB:
			c.B++
		case puzzle.TagC:
			c.C++
		default:
			skipped++
			continue
		}
		counts[seedID] = c
		c.Total++
		c.Rewards += reward
	}
	return counts, skipped
}

// StateReader loads the stored record for a seed. *puzzle.Engine satisfies it.
type StateReader interface {
	State(ctx context.Context, seedID uint64) (puzzle.State, error)
}

// Mismatch is one seed whose stored counters disagree with the log.
type Mismatch struct {
	SeedID uint64  `json:"seed_id"`
	Logged Counts  `json:"logged"`
	Stored *Counts `json:"stored,omitempty"`
	Reason string  `json:"reason"`
}

// Report summarizes an audit run.
type Report struct {
	Seeds      int        `json:"seeds"`
	Events     int        `json:"events"`
	Skipped    int        `json:"skipped"`
	Mismatches []Mismatch `json:"mismatches"`
}

// OK reports whether every audited seed matched.
func (r Report) OK() bool { return len(r.Mismatches) == 0 }

// Run rebuilds counters from recs and compares them with the stored record
// of every seed that appears in the log, plus any extra seeds given.
func Run(ctx context.Context, sr StateReader, recs []Record, extra ...uint64) (Report, error) {
	counts, skipped := Rebuild(recs)
	for _, id := range extra {
		if _, ok := counts[id]; !ok {
			counts[id] = &Counts{}
		}
	}

	seeds := make([]uint64, 0, len(counts))
	for id := range counts {
		seeds = append(seeds, id)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i] < seeds[j] })

	report := Report{Seeds: len(seeds), Skipped: skipped, Mismatches: []Mismatch{}}
	for _, id := range seeds {
		logged := *counts[id]
		report.Events += int(logged.Total)

		st, err := sr.State(ctx, id)
		switch {
		case errors.Is(err, puzzle.ErrSeedNotFound):
			report.Mismatches = append(report.Mismatches, Mismatch{SeedID: id, Logged: logged, Reason: "seed not found"})
			continue
		case err != nil:
			return Report{}, fmt.Errorf("load seed %d: %w", id, err)
		}

		stored := countsOf(st)
		if err := st.Validate(); err != nil {
			report.Mismatches = append(report.Mismatches, Mismatch{SeedID: id, Logged: logged, Stored: &stored, Reason: err.Error()})
			continue
		}
		if !logged.matches(stored) {
			report.Mismatches = append(report.Mismatches, Mismatch{SeedID: id, Logged: logged, Stored: &stored, Reason: "counters differ from event log"})
		}
	}

	for _, m := range report.Mismatches {
		events.Emit("warning", "audit.mismatch", m.Reason, map[string]interface{}{
			"seed_id":       m.SeedID,
			"logged_total":  m.Logged.Total,
			"logged_reward": m.Logged.Rewards,
		})
	}
	events.Emit("info", "audit.completed", "", map[string]interface{}{
		"seeds":      report.Seeds,
		"events":     report.Events,
		"skipped":    report.Skipped,
		"mismatches": len(report.Mismatches),
	})
	return report, nil
}

// toUint64 reads a numeric field. Fields decoded from JSON arrive as
// float64; fields from the in-process buffer keep their Go type.
func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint8:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint:
		return uint64(n), true
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case float64:
		if n < 0 || n >= 1<<64 || n != math.Trunc(n) {
			return 0, false
		}
		return uint64(n), true
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		return u, err == nil
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		return u, err == nil
	default:
		return 0, false
	}
}
