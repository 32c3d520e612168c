package pipeline

import (
	"go.uber.org/zap"
)

// State is a stage of the turn state machine.
type State string

const (
	StateReceived         State = "Received"
	StateTranscribing     State = "Transcribing"
	StatePersonaResolving State = "PersonaResolving"
	StateComposing        State = "Composing"
	StateGenerating       State = "Generating"
	StateSynthesizing     State = "Synthesizing"
	StateCompleted        State = "Completed"
	StateFailed           State = "Failed"
)

// trace records and logs every transition of one turn.
type trace struct {
	id     string
	states []State
	logger *zap.Logger
}

func (t *trace) enter(state State) {
	t.states = append(t.states, state)
	t.logger.Debug("turn transition", zap.String("turn", t.id), zap.String("state", string(state)))
}

// finish ends the turn in Completed, or Failed(kind) when generation was replaced by the apology.
func (t *trace) finish(kind FailureKind) {
	if kind != FailureNone {
		t.states = append(t.states, StateFailed)
		t.logger.Info("turn finished", zap.String("turn", t.id), zap.String("state", string(StateFailed)), zap.String("kind", string(kind)))
		return
	}
	t.enter(StateCompleted)
}

func (t *trace) fail(err error) error {
	t.states = append(t.states, StateFailed)
	t.logger.Info("turn aborted",
		zap.String("turn", t.id),
		zap.String("state", string(StateFailed)),
		zap.String("kind", string(KindOf(err))),
		zap.Error(err),
	)
	return err
}
