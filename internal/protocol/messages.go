package protocol

import (
	"cades.ai/internal/env"
	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	AgentName       string            `json:"agent_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
	// VectorObs asks the server to attach Observation.Vector() to every OBS.
	VectorObs bool `json:"vector_obs,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type             string        `json:"type"`
	ProtocolVersion  string        `json:"protocol_version"`
	SessionID        string        `json:"session_id"`
	Config           tuning.Config `json:"config"`
	TuningDigest     string        `json:"tuning_digest"`
	ObservationSpace env.Box       `json:"observation_space"`
	ActionSpace      env.Discrete  `json:"action_space"`
}

// RESET (client -> server). Scenario replaces the generated problem for this episode.
type ResetMsg struct {
	Type            string                `json:"type"`
	ProtocolVersion string                `json:"protocol_version"`
	ReqID           string                `json:"req_id,omitempty"`
	Training        bool                  `json:"training"`
	Seed            *int64                `json:"seed,omitempty"`
	Scenario        *problem.ScenarioSpec `json:"scenario,omitempty"`
}

// ACT (client -> server)
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Action          int    `json:"action"`
	Training        bool   `json:"training"`
}

// SEED (client -> server)
type SeedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Seed            int64  `json:"seed"`
}

// OBS (server -> client), sent after RESET and after every ACT.
type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	EpisodeID       string `json:"episode_id"`

	Observation env.Observation `json:"observation"`
	Vector      []float64       `json:"vector,omitempty"`
	Mask        []bool          `json:"mask"`

	Reward float64   `json:"reward"`
	Done   bool      `json:"done"`
	Info   *env.Info `json:"info,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(reqID, code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, ReqID: reqID, Code: code, Message: msg}
}
