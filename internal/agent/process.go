package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/pkg/bai"
	"github.com/freeeve/kriegsim/pkg/battle"
)

// ProcessOption configures a ProcessAgent.
type ProcessOption func(*ProcessAgent)

// WithMoveTime sets the movetime budget sent with every go.
func WithMoveTime(d time.Duration) ProcessOption {
	return func(p *ProcessAgent) { p.moveTime = d }
}

// WithAgentOption queues a setoption sent after the handshake.
func WithAgentOption(name, value string) ProcessOption {
	return func(p *ProcessAgent) { p.options = append(p.options, [2]string{name, value}) }
}

// ProcessAgent delegates decisions to an agent binary speaking BAI. The
// process is started on the first decision and reused until Close.
type ProcessAgent struct {
	path     string
	moveTime time.Duration
	options  [][2]string

	mu     sync.Mutex
	client *bai.Client
	name   string
}

// NewProcessAgent returns an agent backed by the binary at path.
func NewProcessAgent(path string, opts ...ProcessOption) *ProcessAgent {
	p := &ProcessAgent{path: path, moveTime: time.Second}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *ProcessAgent) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.name != "" {
		return KindProcess + ":" + p.name
	}
	return KindProcess
}

func (p *ProcessAgent) Decide(ctx context.Context, s *battle.Snapshot) (int, error) {
	if len(s.Legal) == 0 {
		return -1, ErrNoLegalActions
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureStarted(ctx); err != nil {
		return -1, err
	}
	if s.Turn == 0 {
		p.client.NewBattle()
	}
	p.client.SetPlayer(int(s.Player))
	p.client.Position(s.Position)

	// the agent gets its movetime plus a margin before we stop it
	gctx, cancel := context.WithTimeout(ctx, p.moveTime+2*time.Second)
	defer cancel()
	res, err := p.client.Go(gctx, bai.GoParams{MoveTime: int(p.moveTime.Milliseconds())})
	if err != nil {
		// a broken process is restarted on the next decision
		p.client.Close()
		p.client = nil
		return -1, fmt.Errorf("agent %s: %w", p.path, err)
	}
	if res.BestAction < 0 {
		return -1, ErrNoLegalActions
	}
	return res.BestAction, nil
}

func (p *ProcessAgent) ensureStarted(ctx context.Context) error {
	if p.client != nil {
		return nil
	}
	c := bai.NewClient(p.path)
	ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.Init(ictx); err != nil {
		return fmt.Errorf("agent %s: %w", p.path, err)
	}
	for _, o := range p.options {
		c.SetOption(o[0], o[1])
	}
	if err := c.IsReady(ictx); err != nil {
		c.Close()
		return fmt.Errorf("agent %s: %w", p.path, err)
	}
	log.Debug().Str("agent", c.ID.Name).Str("path", p.path).Msg("Process agent started")
	p.client = c
	p.name = c.ID.Name
	return nil
}

// Close stops the agent process.
func (p *ProcessAgent) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
