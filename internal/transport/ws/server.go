package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cades.ai/internal/env"
	"cades.ai/internal/protocol"
	"cades.ai/internal/sim/episode"
	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
)

// Server hands every websocket connection its own Env. Envs are never shared.
type Server struct {
	cfg      tuning.Config
	log      *log.Logger
	rec      env.Recorder
	episodes env.EpisodeLogger

	sessions atomic.Int64

	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithRecorder(r env.Recorder) Option           { return func(s *Server) { s.rec = r } }
func WithEpisodeLogger(l env.EpisodeLogger) Option { return func(s *Server) { s.episodes = l } }

func NewServer(cfg tuning.Config, logger *log.Logger, opts ...Option) *Server {
	s := &Server{
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sessions is the number of connections currently attached.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

type session struct {
	id     string
	env    *env.Env
	vector bool
	out    chan []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. The env is only touched from here.
		for ctx.Err() == nil {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			resp := s.dispatch(sess, msg)
			b, err := json.Marshal(resp)
			if err != nil {
				s.logf("session %s: marshal: %v", sess.id, err)
				continue
			}
			select {
			case sess.out <- b:
			case <-ctx.Done():
			}
		}
		cancel()
		<-done
	}
}

func (s *Server) dispatch(sess *session, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.NewError("", protocol.ErrProtoBadRequest, "bad json")
	}
	if base.ProtocolVersion != protocol.Version {
		return protocol.NewError(base.ReqID, protocol.ErrProtoVersion, "bad protocol_version")
	}
	if err := protocol.Validate(base.Type, msg); err != nil {
		return protocol.NewError(base.ReqID, protocol.ErrProtoBadRequest, err.Error())
	}

	switch base.Type {
	case protocol.TypeReset:
		var m protocol.ResetMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewError(m.ReqID, protocol.ErrProtoBadRequest, err.Error())
		}
		return s.reset(sess, m)
	case protocol.TypeAct:
		var m protocol.ActMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewError(m.ReqID, protocol.ErrProtoBadRequest, err.Error())
		}
		return s.act(sess, m)
	case protocol.TypeSeed:
		var m protocol.SeedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewError(m.ReqID, protocol.ErrProtoBadRequest, err.Error())
		}
		sess.env.SetProblemGeneratorSeed(m.Seed)
		return protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, ReqID: m.ReqID, AckFor: protocol.TypeSeed, Accepted: true}
	}
	return protocol.NewError(base.ReqID, protocol.ErrBadRequest, "unexpected message type "+base.Type)
}

func (s *Server) reset(sess *session, m protocol.ResetMsg) any {
	opts := env.ResetOptions{Training: m.Training, Seed: m.Seed}
	if m.Scenario != nil {
		in, err := problem.FromSpec(*m.Scenario)
		if err != nil {
			return protocol.NewError(m.ReqID, protocol.ErrBadScenario, err.Error())
		}
		opts.Instance = in
	}
	obs, mask, err := sess.env.Reset(opts)
	if err != nil {
		if errors.Is(err, env.ErrBinCountMismatch) {
			return protocol.NewError(m.ReqID, protocol.ErrBadScenario, err.Error())
		}
		return protocol.NewError(m.ReqID, protocol.ErrInternal, err.Error())
	}
	out := s.obsMsg(sess, m.ReqID, obs, mask)
	out.Done = obs.Done
	if obs.Done {
		info, _ := sess.env.Info()
		out.Info = &info
	}
	return out
}

func (s *Server) act(sess *session, m protocol.ActMsg) any {
	res, err := sess.env.Step(m.Action, m.Training)
	switch {
	case errors.Is(err, env.ErrNotReset):
		return protocol.NewError(m.ReqID, protocol.ErrNotReset, "RESET first")
	case errors.Is(err, episode.ErrEpisodeDone):
		return protocol.NewError(m.ReqID, protocol.ErrEpisodeDone, "episode finished; RESET to start another")
	case err != nil:
		return protocol.NewError(m.ReqID, protocol.ErrInternal, err.Error())
	}
	out := s.obsMsg(sess, m.ReqID, res.Observation, sess.env.LegalityMask())
	out.Reward = res.Reward
	out.Done = res.Done
	out.Info = &res.Info
	return out
}

func (s *Server) obsMsg(sess *session, reqID string, obs env.Observation, mask []bool) protocol.ObsMsg {
	m := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		EpisodeID:       sess.env.EpisodeID(),
		Observation:     obs,
		Mask:            mask,
	}
	if sess.vector {
		m.Vector = obs.Vector()
	}
	return m
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if hello.AgentName == "" {
		hello.AgentName = "agent"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}

	opts := []env.Option{env.WithLogger(s.log)}
	if s.rec != nil {
		opts = append(opts, env.WithRecorder(s.rec))
	}
	if s.episodes != nil {
		opts = append(opts, env.WithEpisodeLogger(s.episodes))
	}
	e, err := env.New(s.cfg, opts...)
	if err != nil {
		s.logf("env: %v", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "env unavailable"), time.Now().Add(time.Second))
		return nil
	}
	sess := &session{
		id:     uuid.NewString(),
		env:    e,
		vector: hello.Capabilities.VectorObs,
		out:    make(chan []byte, maxQ),
	}

	welcome := protocol.WelcomeMsg{
		Type:             protocol.TypeWelcome,
		ProtocolVersion:  protocol.Version,
		SessionID:        sess.id,
		Config:           s.cfg,
		TuningDigest:     s.cfg.Digest(),
		ObservationSpace: e.ObservationSpace(),
		ActionSpace:      e.ActionSpace(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	s.logf("session %s: %s joined", sess.id, hello.AgentName)
	return sess
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
