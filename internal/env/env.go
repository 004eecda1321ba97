// Package env is the agent-facing placement environment: reset, step, legality mask and
// observation/action spaces over one episode at a time.
package env

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"cades.ai/internal/sim/episode"
	"cades.ai/internal/sim/metrics"
	"cades.ai/internal/sim/placement"
	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
)

var (
	ErrNotReset         = errors.New("env: step before reset")
	ErrBinCountMismatch = errors.New("env: instance bin count does not match total_bins")
)

// Info accompanies every step result.
type Info struct {
	EpisodeLen       int             `json:"episode_len"`
	TerminationCause placement.Cause `json:"termination_cause,omitempty"`
	EpisodeReward    float64         `json:"episode_reward"`
	InvalidAction    bool            `json:"invalid_action,omitempty"`

	AvgNodeOccupancy        float64 `json:"avg_node_occupancy"`
	AvgActiveNodeOccupancy  float64 `json:"avg_active_node_occupancy"`
	MessageChannelOccupancy float64 `json:"message_channel_occupancy"`
	EmptyNodes              float64 `json:"empty_nodes"`
}

type StepResult struct {
	Observation Observation `json:"observation"`
	Reward      float64     `json:"reward"`
	Done        bool        `json:"done"`
	Info        Info        `json:"info"`
}

// ResetOptions selects the next episode's problem. Instance, when set, is used as is;
// otherwise a problem is drawn from the training or evaluation stream. Seed reseeds
// the stream in use before drawing.
type ResetOptions struct {
	Instance *problem.Instance
	Training bool
	Seed     *int64
}

// Recorder observes episode progress. Implementations must be cheap; they run inline.
type Recorder interface {
	EpisodeStarted(training bool)
	StepTaken(training bool, reward float64, invalid bool)
	EpisodeFinished(training bool, cause placement.Cause, steps int, reward float64)
}

// EpisodeLogger receives one entry per finished episode.
type EpisodeLogger interface {
	WriteEpisode(entry EpisodeLogEntry) error
}

// EpisodeLogEntry is enough to replay an episode through a fresh Env and check its digest.
type EpisodeLogEntry struct {
	EpisodeID    string            `json:"episode_id"`
	StartedAt    time.Time         `json:"started_at"`
	Training     bool              `json:"training"`
	ConfigDigest string            `json:"config_digest"`
	Instance     *problem.Instance `json:"instance"`
	Actions      []int             `json:"actions"`
	Rewards      []float64         `json:"rewards"`
	Cause        placement.Cause   `json:"termination_cause"`
	Steps        int               `json:"steps"`
	TotalReward  float64           `json:"total_reward"`
	Digest       string            `json:"digest"`
	Metrics      metrics.Report    `json:"metrics"`
}

type Option func(*Env)

func WithLogger(l *log.Logger) Option          { return func(e *Env) { e.log = l } }
func WithRecorder(r Recorder) Option           { return func(e *Env) { e.rec = r } }
func WithEpisodeLogger(l EpisodeLogger) Option { return func(e *Env) { e.episodes = l } }

// WithInvariantChecks verifies every placement invariant after each step and
// panics on a violation. Meant for tests and replay.
func WithInvariantChecks() Option { return func(e *Env) { e.verify = true } }

// Env is single-threaded. Run one Env per goroutine.
type Env struct {
	cfg   tuning.Config
	scale Scale

	trainRNG *rand.Rand
	evalRNG  *rand.Rand

	log      *log.Logger
	rec      Recorder
	episodes EpisodeLogger
	verify   bool

	m        *episode.Machine
	training bool
	cur      EpisodeLogEntry
}

// New validates cfg and seeds the training stream from cfg.Seed and the evaluation
// stream from cfg.EvalSeed.
func New(cfg tuning.Config, opts ...Option) (*Env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	e := &Env{
		cfg:      cfg,
		scale:    scaleFor(cfg),
		trainRNG: rand.New(rand.NewSource(cfg.Seed)),
		evalRNG:  rand.New(rand.NewSource(cfg.EvalSeed)),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Env) Config() tuning.Config { return e.cfg }

func (e *Env) ObservationSpace() Box { return observationSpace(e.cfg) }

func (e *Env) ActionSpace() Discrete { return Discrete{N: e.cfg.TotalBins} }

// SetProblemGeneratorSeed reseeds both problem streams, keeping the configured distance
// between the training and evaluation seeds.
func (e *Env) SetProblemGeneratorSeed(seed int64) {
	e.trainRNG.Seed(seed)
	e.evalRNG.Seed(seed + e.cfg.EvalSeed - e.cfg.Seed)
}

// Reset starts a new episode. If the first task already has no legal bin the returned
// observation is done with cause INFEASIBLE.
func (e *Env) Reset(opts ResetOptions) (Observation, []bool, error) {
	rng := e.evalRNG
	if opts.Training {
		rng = e.trainRNG
	}
	if opts.Seed != nil {
		rng.Seed(*opts.Seed)
	}

	in := opts.Instance
	if in != nil {
		if err := in.Validate(); err != nil {
			return Observation{}, nil, fmt.Errorf("env: reset instance: %w", err)
		}
		if in.TotalBins() != e.cfg.TotalBins {
			return Observation{}, nil, fmt.Errorf("%w: %d != %d", ErrBinCountMismatch, in.TotalBins(), e.cfg.TotalBins)
		}
		in = in.Clone()
	} else {
		seed := rng.Int63()
		var err error
		in, err = problem.Generate(e.cfg, rand.New(rand.NewSource(seed)))
		if err != nil {
			return Observation{}, nil, err
		}
		in.Seed = seed
	}

	e.training = opts.Training
	e.m = episode.New(e.cfg, in)
	e.cur = EpisodeLogEntry{
		EpisodeID:    uuid.NewString(),
		StartedAt:    time.Now().UTC(),
		Training:     opts.Training,
		ConfigDigest: e.cfg.Digest(),
		Instance:     in.Clone(),
	}
	if e.rec != nil {
		e.rec.EpisodeStarted(opts.Training)
	}

	if o := e.m.Begin(); o.Done {
		e.finished()
	}
	return observe(e.m.State(), e.scale), e.m.State().Mask(), nil
}

// Step applies action to the current task. training only labels the transition for
// recorders; the problem stream was chosen at reset.
func (e *Env) Step(action int, training bool) (StepResult, error) {
	if e.m == nil {
		return StepResult{}, ErrNotReset
	}
	if e.m.Done() {
		return StepResult{}, episode.ErrEpisodeDone
	}
	o, err := e.m.Step(action)
	if err != nil {
		return StepResult{}, err
	}
	if e.verify {
		if err := e.m.State().CheckInvariants(); err != nil {
			panic(fmt.Sprintf("env: invariant violated after action %d: %v", action, err))
		}
	}
	e.cur.Actions = append(e.cur.Actions, action)
	e.cur.Rewards = append(e.cur.Rewards, o.Reward)
	if e.rec != nil {
		e.rec.StepTaken(training, o.Reward, o.Invalid)
	}

	info := e.info()
	info.InvalidAction = o.Invalid
	if o.Done {
		e.finished()
	}
	return StepResult{
		Observation: observe(e.m.State(), e.scale),
		Reward:      o.Reward,
		Done:        o.Done,
		Info:        info,
	}, nil
}

func (e *Env) info() Info {
	s := e.m.State()
	r := metrics.Snapshot(s)
	return Info{
		EpisodeLen:              s.StepCount,
		TerminationCause:        s.Cause,
		EpisodeReward:           e.m.TotalReward(),
		AvgNodeOccupancy:        r.AvgNodeOccupancy,
		AvgActiveNodeOccupancy:  r.AvgActiveNodeOccupancy,
		MessageChannelOccupancy: r.MessageChannelOccupancy,
		EmptyNodes:              r.EmptyNodes,
	}
}

func (e *Env) finished() {
	s := e.m.State()
	e.cur.Cause = s.Cause
	e.cur.Steps = s.StepCount
	e.cur.TotalReward = e.m.TotalReward()
	e.cur.Digest = s.Digest()
	e.cur.Metrics = metrics.Snapshot(s)
	if e.rec != nil {
		e.rec.EpisodeFinished(e.training, s.Cause, s.StepCount, e.m.TotalReward())
	}
	if e.episodes != nil {
		if err := e.episodes.WriteEpisode(e.cur); err != nil && e.log != nil {
			e.log.Printf("episode log: %v", err)
		}
	}
}

// LegalityMask is the mask for the current task; all false before reset or once done.
func (e *Env) LegalityMask() []bool {
	if e.m == nil {
		return make([]bool, e.cfg.TotalBins)
	}
	return e.m.State().Mask()
}

// Observation recomputes the current observation.
func (e *Env) Observation() (Observation, error) {
	if e.m == nil {
		return Observation{}, ErrNotReset
	}
	return observe(e.m.State(), e.scale), nil
}

// Info reports the running episode's figures.
func (e *Env) Info() (Info, error) {
	if e.m == nil {
		return Info{}, ErrNotReset
	}
	return e.info(), nil
}

// State returns a deep copy of the placement state, or nil before reset.
func (e *Env) State() *placement.State {
	if e.m == nil {
		return nil
	}
	return e.m.State().Clone()
}

func (e *Env) Digest() string {
	if e.m == nil {
		return ""
	}
	return e.m.State().Digest()
}

func (e *Env) Done() bool { return e.m != nil && e.m.Done() }

// Instance returns a copy of the running episode's problem.
func (e *Env) Instance() *problem.Instance { return e.cur.Instance.Clone() }

func (e *Env) EpisodeID() string { return e.cur.EpisodeID }

// Transcript returns the running episode's log entry so far.
func (e *Env) Transcript() EpisodeLogEntry {
	t := e.cur
	t.Instance = e.cur.Instance.Clone()
	t.Actions = append([]int(nil), e.cur.Actions...)
	t.Rewards = append([]float64(nil), e.cur.Rewards...)
	return t
}
