package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"cades.ai/internal/agent"
	"cades.ai/internal/protocol"
	"cades.ai/internal/stats"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "agent name")
		policy   = flag.String("policy", "random", "baseline policy: random, first_fit, best_fit")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "policy rng seed")
		episodes = flag.Int("episodes", 10, "episodes to play before exiting")
		training = flag.Bool("training", true, "draw problems from the training stream")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	p, ok := agent.Baseline(*policy, *seed)
	if !ok {
		logger.Fatalf("unknown policy %q (want one of %v)", *policy, agent.BaselineNames)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := &bot{conn: conn, log: logger, policy: p, training: *training, episodes: *episodes}
	for !b.finished() {
		select {
		case <-stop:
			b.report()
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			break
		}
		if err := b.handle(msg); err != nil {
			logger.Fatalf("%v", err)
		}
	}
	b.report()
}

type bot struct {
	conn     *websocket.Conn
	log      *log.Logger
	policy   agent.Policy
	training bool
	episodes int

	reqs int
	done []stats.Episode
}

func (b *bot) finished() bool { return len(b.done) >= b.episodes }

func (b *bot) nextReq() string {
	b.reqs++
	return fmt.Sprintf("R%d", b.reqs)
}

func (b *bot) handle(msg []byte) error {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return nil
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return nil
		}
		b.log.Printf("WELCOME session=%s tuning=%s bins=%d", w.SessionID, w.TuningDigest, w.ActionSpace.N)
		return b.reset()

	case protocol.TypeObs:
		var obs protocol.ObsMsg
		if err := json.Unmarshal(msg, &obs); err != nil {
			return nil
		}
		if !obs.Done {
			return b.conn.WriteJSON(protocol.ActMsg{
				Type:            protocol.TypeAct,
				ProtocolVersion: protocol.Version,
				ReqID:           b.nextReq(),
				Action:          b.policy.Act(obs.Observation, obs.Mask),
				Training:        b.training,
			})
		}
		ep := stats.Episode{}
		if obs.Info != nil {
			ep.Reward = obs.Info.EpisodeReward
			ep.Length = obs.Info.EpisodeLen
			ep.Cause = obs.Info.TerminationCause
			ep.Metrics.AvgNodeOccupancy = obs.Info.AvgNodeOccupancy
			ep.Metrics.AvgActiveNodeOccupancy = obs.Info.AvgActiveNodeOccupancy
			ep.Metrics.MessageChannelOccupancy = obs.Info.MessageChannelOccupancy
			ep.Metrics.EmptyNodes = obs.Info.EmptyNodes
		}
		b.done = append(b.done, ep)
		b.log.Printf("episode=%s cause=%s steps=%d reward=%.3f", obs.EpisodeID, ep.Cause, ep.Length, ep.Reward)
		if b.finished() {
			return nil
		}
		return b.reset()

	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		return fmt.Errorf("server error %s: %s", e.Code, e.Message)
	}
	return nil
}

func (b *bot) reset() error {
	return b.conn.WriteJSON(protocol.ResetMsg{
		Type:            protocol.TypeReset,
		ProtocolVersion: protocol.Version,
		ReqID:           b.nextReq(),
		Training:        b.training,
	})
}

func (b *bot) report() {
	s := stats.Summarize(b.done)
	out, _ := json.MarshalIndent(s, "", "  ")
	b.log.Printf("summary:\n%s", out)
}
