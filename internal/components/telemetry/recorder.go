package telemetry

import (
	"strings"
	"sync"
)

// Report is a single call recorded by Recorder.
type Report struct {
	Level  string
	Id     string
	Params []any
}

// Recorder is an API that keeps every report in memory, it is meant for tests
// that want to assert on what was (or was not) reported.
type Recorder struct {
	mutex   sync.Mutex
	reports []Report
}

func (r *Recorder) add(level, id string, params []any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, Report{Level: level, Id: id, Params: params})
}

func (r *Recorder) ReportBroken(id string, params ...any) {
	r.add("broken", id, params)
}

func (r *Recorder) ReportWarning(id string, params ...any) {
	r.add("warning", id, params)
}

func (r *Recorder) ReportDebug(msg string, params ...any) {
	r.add("debug", msg, params)
}

func (r *Recorder) ReportCount(id string, count int64) {
	r.add("count", id, []any{count})
}

// Reports returns a copy of the reports at the given level, an empty level
// returns everything.
func (r *Recorder) Reports(level string) []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var out []Report
	for _, rep := range r.reports {
		if level == "" || rep.Level == level {
			out = append(out, rep)
		}
	}
	return out
}

// Broken returns the ids of broken reports whose id contains substr.
func (r *Recorder) Broken(substr string) []string {
	var ids []string
	for _, rep := range r.Reports("broken") {
		if strings.Contains(rep.Id, substr) {
			ids = append(ids, rep.Id)
		}
	}
	return ids
}
