package transcribe

import (
	"log"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

// LiveHandler adapts the Deepgram live-transcription callback stream to the
// accumulator's fragment contract.
//
// Deepgram interim results (is_final=false) are cumulative rewrites of the
// current phrase, so they are not appendable fragments and are skipped.
// Each is_final result is one settled chunk, appended as a non-final
// fragment; speech_final or an UtteranceEnd event closes the utterance.
type LiveHandler struct {
	acc  *Accumulator
	open bool
}

func NewLiveHandler(acc *Accumulator) *LiveHandler {
	return &LiveHandler{acc: acc}
}

func (h *LiveHandler) Message(mr *api.MessageResponse) error {
	if h.acc == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	if !mr.IsFinal {
		return nil
	}

	sentence := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if sentence != "" {
		if h.open {
			sentence = " " + sentence
		}
		h.acc.OnFragment(Fragment{Text: sentence})
		h.open = true
	}

	if mr.SpeechFinal {
		h.finish()
	}
	return nil
}

func (h *LiveHandler) UtteranceEnd(*api.UtteranceEndResponse) error {
	h.finish()
	return nil
}

func (h *LiveHandler) finish() {
	if h.acc != nil {
		h.acc.OnFragment(Fragment{IsFinal: true})
	}
	h.open = false
}

func (h *LiveHandler) Open(*api.OpenResponse) error {
	log.Println("connected to Deepgram")
	return nil
}

// Close abandons any open utterance: no final is synthesized on disconnect,
// and the last partial peers saw simply stands until superseded.
func (h *LiveHandler) Close(*api.CloseResponse) error {
	log.Println("disconnected from Deepgram")
	if h.acc != nil {
		h.acc.Abandon()
	}
	h.open = false
	return nil
}

func (h *LiveHandler) Error(er *api.ErrorResponse) error {
	log.Printf("deepgram error %s: %s", er.ErrCode, er.Description)
	return nil
}

func (h *LiveHandler) Metadata(*api.MetadataResponse) error { return nil }

func (h *LiveHandler) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (h *LiveHandler) UnhandledEvent([]byte) error { return nil }
