package transcribe

import (
	"fmt"
	"strings"
	"time"
)

// Fragment is one incremental unit of recognized text for an utterance,
// produced by the transcription engine. Text is a delta to append, not a
// cumulative rewrite.
type Fragment struct {
	Text    string
	IsFinal bool
}

// Utterance is what the accumulator emits downstream: the full cumulative
// text so far under a stable identity. Consumers must replace by ID, never
// append: every emission carries the whole text.
type Utterance struct {
	ID    string
	Text  string
	Final bool
}

// Accumulator folds a speaker's fragment stream into a growing current
// utterance and decides when it is complete.
//
// Identity is owned here, not by the transcription producer: the id is
// minted lazily on the first emission for an utterance and retired the
// instant a final fragment closes it, so at most one utterance is open per
// speaker and every emission for it shares one id. Not safe for concurrent
// use; the producer delivers a speaker's fragments on a single logical
// thread.
type Accumulator struct {
	speaker string
	emit    func(Utterance)
	now     func() time.Time

	id         string
	text       string
	lastMinted int64
}

func NewAccumulator(speaker string, emit func(Utterance)) *Accumulator {
	return &Accumulator{
		speaker: speaker,
		emit:    emit,
		now:     time.Now,
	}
}

// OnFragment appends one fragment and emits the resulting utterance state.
//
// A non-final fragment opens an utterance if none is open and emits the
// cumulative text as a partial. A final fragment emits the cumulative text
// as final and retires the id, unless the accumulated text is empty, in
// which case nothing is emitted (no empty final messages). A final with no
// preceding partials still gets an id minted before emission, so even
// single-shot utterances have a stable identity for deduplication.
func (a *Accumulator) OnFragment(f Fragment) {
	a.text += f.Text

	if !f.IsFinal {
		a.ensureID()
		a.emit(Utterance{ID: a.id, Text: a.text, Final: false})
		return
	}

	if strings.TrimSpace(a.text) == "" {
		a.reset()
		return
	}

	a.ensureID()
	a.emit(Utterance{ID: a.id, Text: a.text, Final: true})
	a.reset()
}

// Abandon drops the open utterance without emitting a final. Used when the
// transport to the engine is lost mid-utterance; any partial already
// broadcast remains in peers' views until a new utterance supersedes it.
func (a *Accumulator) Abandon() {
	a.reset()
}

func (a *Accumulator) ensureID() {
	if a.id != "" {
		return
	}
	ms := a.now().UnixMilli()
	if ms <= a.lastMinted {
		// Two utterances within one millisecond must not share an id.
		ms = a.lastMinted + 1
	}
	a.lastMinted = ms
	a.id = fmt.Sprintf("%s-%d", a.speaker, ms)
}

func (a *Accumulator) reset() {
	a.id = ""
	a.text = ""
}
