package confirm

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// Confirmation task states.
const (
	stateAwaiting   = "awaiting_recheck"
	stateRechecking = "rechecking"
	stateResolved   = "resolved"
	stateEscalated  = "escalated"
)

// Confirmation task events.
const (
	eventRecheck  = "recheck"
	eventRearm    = "rearm"
	eventResolve  = "resolve"
	eventEscalate = "escalate"
)

// machine wraps the per-task state machine. Transitions outside the declared
// set fail, which surfaces scheduling bugs as loud logs instead of silent
// double alerts.
type machine struct {
	f *fsm.FSM
}

func newMachine(identity string) *machine {
	return &machine{f: fsm.NewFSM(
		stateAwaiting,
		fsm.Events{
			{Name: eventRecheck, Src: []string{stateAwaiting}, Dst: stateRechecking},
			{Name: eventRearm, Src: []string{stateRechecking}, Dst: stateAwaiting},
			{Name: eventResolve, Src: []string{stateRechecking}, Dst: stateResolved},
			{Name: eventEscalate, Src: []string{stateRechecking}, Dst: stateEscalated},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				slog.Debug("confirm: task state change",
					"identity", identity, "from", e.Src, "to", e.Dst)
			},
		},
	)}
}

// Event fires a transition.
func (m *machine) Event(ctx context.Context, event string) error {
	return m.f.Event(ctx, event)
}

// Current returns the task's current state.
func (m *machine) Current() string {
	return m.f.Current()
}
