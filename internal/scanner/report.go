package scanner

import (
	"strings"
)

// UnitKind distinguishes capture folders from marker files.
type UnitKind string

const (
	KindFolder UnitKind = "folder"
	KindMarker UnitKind = "marker"
)

// Phases reported on unit failures.
const (
	PhaseWalk         = "walk"
	PhaseStats        = "stats"
	PhaseFingerprint  = "fingerprint"
	PhaseMissionCheck = "mission_check"
	PhaseStateGet     = "state_get"
	PhaseStateUpsert  = "state_upsert"
	PhaseStateTouch   = "state_touch"
)

// Unit is one tracked folder or marker file as observed on disk.
type Unit struct {
	Kind       UnitKind
	Key        string // mission/capture for folders, mission for markers
	MissionKey string
	SourcePath string
	OutputPath string

	Fingerprint string
	SizeKB      int64
	FileCount   int64
}

// Result is the outcome of scanning one unit. Err is set when the unit could
// not be fully processed; Phase names where it failed.
type Result struct {
	Unit           Unit
	Classification Classification
	Phase          string
	Err            error
	// Skipped is set for marker files whose mission has no folder records.
	Skipped bool
}

// Failed reports whether the unit hit an error.
func (r Result) Failed() bool { return r.Err != nil }

// Report collects the results of one pass over the tree. Changes holds the
// units needing processing in directory-listing order.
type Report struct {
	Kind    UnitKind
	Results []Result
	Changes []Unit
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	if res.Err == nil && !res.Skipped && res.Classification.NeedsProcessing() {
		r.Changes = append(r.Changes, res.Unit)
	}
}

// Summary counts results by outcome.
type Summary struct {
	Scanned           int
	New               int
	Changed           int
	Incomplete        int
	UnchangedComplete int
	Skipped           int
	Failed            int
}

// Summary tallies the report.
func (r Report) Summary() Summary {
	var s Summary
	for _, res := range r.Results {
		s.Scanned++
		switch {
		case res.Err != nil:
			s.Failed++
		case res.Skipped:
			s.Skipped++
		default:
			switch res.Classification {
			case ClassNew:
				s.New++
			case ClassChanged:
				s.Changed++
			case ClassIncomplete:
				s.Incomplete++
			case ClassUnchangedComplete:
				s.UnchangedComplete++
			}
		}
	}
	return s
}

// Failures returns the failed results.
func (r Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Keys lists the change keys, for logs.
func (r Report) Keys() string {
	keys := make([]string, 0, len(r.Changes))
	for _, u := range r.Changes {
		keys = append(keys, u.Key)
	}
	return strings.Join(keys, ",")
}
