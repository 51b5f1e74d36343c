// Package jobs aggregates worker events into the engine snapshot and keeps a
// journal of what happened during a session.
package jobs

import (
	"sync"

	"whisper-relay/internal/domain"
	"whisper-relay/internal/worker"
)

// Aggregator folds worker events into session state. It is safe for concurrent use.
type Aggregator struct {
	mu sync.RWMutex

	isBusy         bool
	isModelLoading bool
	progressItems  []domain.ProgressItem
	transcripts    []domain.FileTranscript
	lastError      string

	// outstanding counts jobs per file name started by the latest Begin and not yet completed.
	outstanding map[string]int
}

// NewAggregator creates an aggregator in the idle state.
func NewAggregator() *Aggregator {
	return &Aggregator{outstanding: make(map[string]int)}
}

// Begin marks a new dispatch: transcripts and the last error are cleared and the
// session is busy until every named job completes.
func (a *Aggregator) Begin(fileNames []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.transcripts = nil
	a.lastError = ""
	a.outstanding = make(map[string]int, len(fileNames))
	for _, name := range fileNames {
		a.outstanding[name]++
	}
	a.isBusy = len(a.outstanding) > 0
}

// Abandon drops one outstanding job for fileName, used when its request could not be sent.
func (a *Aggregator) Abandon(fileName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finishJob(fileName)
}

// ResetTranscripts clears the transcript mapping and nothing else.
func (a *Aggregator) ResetTranscripts() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcripts = nil
}

// Apply folds one worker event into the state. It reports whether the state changed.
func (a *Aggregator) Apply(event worker.Event) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e := event.(type) {
	case worker.InitiateEvent:
		a.isModelLoading = true
		item := domain.ProgressItem{File: e.File, Name: e.Name}
		if i := a.progressIndex(e.File); i >= 0 {
			a.progressItems[i] = item
		} else {
			a.progressItems = append(a.progressItems, item)
		}
		return true

	case worker.ProgressEvent:
		i := a.progressIndex(e.File)
		if i < 0 {
			return false
		}
		item := &a.progressItems[i]
		if e.Loaded != nil {
			item.Loaded = *e.Loaded
		}
		if e.Total != nil {
			item.Total = *e.Total
		}
		switch {
		case e.Progress != nil:
			item.Progress = *e.Progress
		case item.Total > 0:
			item.Progress = float64(item.Loaded) / float64(item.Total)
		}
		return true

	case worker.DoneEvent:
		i := a.progressIndex(e.File)
		if i < 0 {
			return false
		}
		a.progressItems = append(a.progressItems[:i], a.progressItems[i+1:]...)
		return true

	case worker.ReadyEvent:
		a.isModelLoading = false
		return true

	case worker.UpdateEvent:
		a.upsert(e.FileName, domain.TranscriptEntry{IsBusy: true, Text: e.Text, Chunks: domain.CloneChunks(e.Chunks)})
		return true

	case worker.CompleteEvent:
		a.upsert(e.FileName, domain.TranscriptEntry{IsBusy: false, Text: e.Text, Chunks: domain.CloneChunks(e.Chunks)})
		a.finishJob(e.FileName)
		return true

	case worker.ErrorEvent:
		a.isBusy = false
		a.lastError = e.Message
		a.outstanding = make(map[string]int)
		return true

	default:
		return false
	}
}

// Snapshot returns a deep copy of the current state.
func (a *Aggregator) Snapshot() domain.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return domain.Snapshot{
		IsBusy:         a.isBusy,
		IsModelLoading: a.isModelLoading,
		ProgressItems:  a.progressItems,
		Transcripts:    a.transcripts,
		Error:          a.lastError,
	}.Clone()
}

// Outstanding returns how many dispatched jobs have not completed.
func (a *Aggregator) Outstanding() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := 0
	for _, count := range a.outstanding {
		n += count
	}
	return n
}

func (a *Aggregator) progressIndex(file string) int {
	for i := range a.progressItems {
		if a.progressItems[i].File == file {
			return i
		}
	}
	return -1
}

// upsert replaces the entry for fileName wholesale, keeping its position.
func (a *Aggregator) upsert(fileName string, entry domain.TranscriptEntry) {
	for i := range a.transcripts {
		if a.transcripts[i].FileName == fileName {
			a.transcripts[i].TranscriptEntry = entry
			return
		}
	}
	a.transcripts = append(a.transcripts, domain.FileTranscript{FileName: fileName, TranscriptEntry: entry})
}

// finishJob must be called with mu held.
func (a *Aggregator) finishJob(fileName string) {
	if n := a.outstanding[fileName]; n > 1 {
		a.outstanding[fileName] = n - 1
	} else {
		delete(a.outstanding, fileName)
	}
	if len(a.outstanding) == 0 {
		a.isBusy = false
	}
}
