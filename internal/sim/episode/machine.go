// Package episode drives one placement episode from reset to a terminal cause.
package episode

import (
	"errors"

	"cades.ai/internal/sim/placement"
	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
)

// ErrEpisodeDone is returned by Step once the episode has reached a terminal cause.
var ErrEpisodeDone = errors.New("episode: step after episode finished")

// Outcome is what a single transition produced.
type Outcome struct {
	Reward float64         `json:"reward"`
	Done   bool            `json:"done"`
	Cause  placement.Cause `json:"termination_cause,omitempty"`
	// Item is the task the step acted on. Zero for Begin.
	Item problem.Item `json:"item"`
	// Invalid is set when the action was refused and the state left untouched.
	Invalid bool `json:"invalid,omitempty"`
}

// Machine owns the placement state of one episode. It is not safe for concurrent use.
type Machine struct {
	alpha    float64
	rewards  tuning.Reward
	maxSteps int

	s     *placement.State
	total float64
	begun bool
}

func New(cfg tuning.Config, in *problem.Instance) *Machine {
	return &Machine{
		alpha:    cfg.Alpha,
		rewards:  cfg.Reward,
		maxSteps: cfg.MaxSteps,
		s:        placement.New(in),
	}
}

// Begin classifies the freshly reset state. An empty task list is SUCCESS and a first
// task with no legal bin is INFEASIBLE; neither consumes a step nor yields a reward.
func (m *Machine) Begin() Outcome {
	m.begun = true
	if m.s.Terminal {
		return Outcome{Done: true, Cause: m.s.Cause}
	}
	if len(m.s.Pending) == 0 {
		m.s.Finish(placement.CauseSuccess)
		return Outcome{Done: true, Cause: placement.CauseSuccess}
	}
	if !placement.AnyLegal(m.s.Mask()) {
		m.s.Finish(placement.CauseInfeasible)
		return Outcome{Done: true, Cause: placement.CauseInfeasible}
	}
	return Outcome{}
}

// Step assigns the current task to bin action.
func (m *Machine) Step(action int) (Outcome, error) {
	if !m.begun {
		if o := m.Begin(); o.Done {
			return o, ErrEpisodeDone
		}
	}
	if m.s.Terminal {
		return Outcome{Done: true, Cause: m.s.Cause}, ErrEpisodeDone
	}

	it, _ := m.s.Current()
	if !m.s.Legal(action) {
		return m.finish(it, placement.CauseCapacityViolation, true), nil
	}

	shaped := ShapedReward(m.alpha, m.s, it, action)
	if _, err := m.s.Assign(action); err != nil {
		return m.finish(it, placement.CauseCapacityViolation, true), nil
	}
	if m.s.Bins[action].Remaining < 0 {
		return m.finish(it, placement.CauseCapacityViolation, false), nil
	}

	switch {
	case len(m.s.Pending) == 0:
		return m.finish(it, placement.CauseSuccess, false), nil
	case !placement.AnyLegal(m.s.Mask()):
		return m.finish(it, placement.CauseInfeasible, false), nil
	case m.maxSteps > 0 && m.s.StepCount >= m.maxSteps:
		return m.finish(it, placement.CauseMaxStepsExceeded, false), nil
	}
	m.total += shaped
	return Outcome{Reward: shaped, Item: it}, nil
}

func (m *Machine) finish(it problem.Item, c placement.Cause, invalid bool) Outcome {
	m.s.Finish(c)
	r, _ := TerminalReward(m.rewards, c)
	m.total += r
	return Outcome{Reward: r, Done: true, Cause: c, Item: it, Invalid: invalid}
}

// State exposes the live state. Callers must not mutate it.
func (m *Machine) State() *placement.State { return m.s }

func (m *Machine) Done() bool             { return m.s.Terminal }
func (m *Machine) Cause() placement.Cause { return m.s.Cause }
func (m *Machine) Steps() int             { return m.s.StepCount }
func (m *Machine) TotalReward() float64   { return m.total }
