package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manash/seedgraph/pkg/models"
)

type Kind string

const (
	KindResult           Kind = "result"
	KindStep             Kind = "step"
	KindUpscalingStarted Kind = "upscaling-started"
	KindUpscalingDone    Kind = "upscaling-done"
	KindCanceled         Kind = "canceled"
)

var (
	ErrMissingKind = errors.New("event has no kind")
	ErrUnknownKind = errors.New("unknown event kind")
)

// Event is one decoded server event. The set of implementations is closed:
// ResultEvent, StepEvent, UpscalingStartedEvent, UpscalingDoneEvent and
// CanceledEvent.
type Event interface {
	Kind() Kind
	event()
}

// ResultEvent carries a finished image.
type ResultEvent struct {
	models.Output
}

// StepEvent reports sampling progress. URL, when set, points at an
// intermediate preview that must never be treated as a result.
type StepEvent struct {
	Step int    `json:"step"`
	URL  string `json:"url,omitempty"`
}

type UpscalingStartedEvent struct {
	ProcessedFileCount int `json:"processed_file_cnt"`
}

type UpscalingDoneEvent struct{}

type CanceledEvent struct{}

func (ResultEvent) Kind() Kind           { return KindResult }
func (StepEvent) Kind() Kind             { return KindStep }
func (UpscalingStartedEvent) Kind() Kind { return KindUpscalingStarted }
func (UpscalingDoneEvent) Kind() Kind    { return KindUpscalingDone }
func (CanceledEvent) Kind() Kind         { return KindCanceled }

func (ResultEvent) event()           {}
func (StepEvent) event()             {}
func (UpscalingStartedEvent) event() {}
func (UpscalingDoneEvent) event()    {}
func (CanceledEvent) event()         {}

type envelope struct {
	Event Kind `json:"event"`
}

// DecodeEvent decodes one JSON event object.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Event {
	case "":
		return nil, ErrMissingKind
	case KindResult:
		var ev ResultEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindStep:
		var ev StepEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindUpscalingStarted:
		var ev UpscalingStartedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindUpscalingDone:
		return UpscalingDoneEvent{}, nil
	case KindCanceled:
		return CanceledEvent{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Event)
	}
}
