package bai

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/freeeve/kriegsim/pkg/battle"
)

// Decider picks an action index for the side to act in a snapshot.
type Decider interface {
	Decide(ctx context.Context, s *battle.Snapshot) (int, error)
}

// Agent describes the agent side of a session.
type Agent struct {
	ID      AgentID
	Options []Option
	Rules   battle.Rules
	Decider Decider
	// OnOption is called for every setoption; nil ignores them.
	OnOption func(name, value string) error
	// OnNewBattle is called for every newbattle; nil ignores them.
	OnNewBattle func()
}

type session struct {
	agent Agent
	out   io.Writer
	wmu   sync.Mutex

	battle *battle.Battle
	player battle.Player

	search sync.WaitGroup
	cancel context.CancelFunc
}

// Serve runs the agent side of the protocol until "quit", end of input or
// ctx is done. A "go" runs in the background so "stop" and "isready" are
// still answered while the agent thinks.
func Serve(ctx context.Context, in io.Reader, out io.Writer, a Agent) error {
	s := &session{agent: a, out: out}
	defer s.halt()

	done := make(chan struct{})
	defer close(done)
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := s.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (s *session) handle(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "bai":
		s.writeln("id name " + s.agent.ID.Name)
		if s.agent.ID.Author != "" {
			s.writeln("id author " + s.agent.ID.Author)
		}
		s.writeln("protocol_version " + strconv.Itoa(ProtocolVersion))
		for _, o := range s.agent.Options {
			s.writeln(o.line())
		}
		s.writeln("baiok")
	case "isready":
		s.writeln("readyok")
	case "setoption":
		name, value := parseSetOption(rest)
		if s.agent.OnOption != nil {
			if err := s.agent.OnOption(name, value); err != nil {
				s.writeln("info string setoption " + name + ": " + err.Error())
			}
		}
	case "newbattle":
		s.halt()
		s.battle = nil
		s.player = battle.Player0
		if s.agent.OnNewBattle != nil {
			s.agent.OnNewBattle()
		}
	case "setplayer":
		switch rest {
		case "0":
			s.player = battle.Player0
		case "1":
			s.player = battle.Player1
		default:
			s.writeln("info string bad player " + rest)
		}
	case "position":
		b, err := battle.DecodeBFEN(rest, s.agent.Rules)
		if err != nil {
			s.battle = nil
			s.writeln("info string " + err.Error())
			return false
		}
		s.battle = b
	case "go":
		s.halt()
		s.goSearch(ctx, parseGoParams(strings.Fields(rest)))
	case "stop":
		if s.cancel != nil {
			s.cancel()
		}
	case "quit":
		return true
	}
	return false
}

// goSearch decides in the background and always answers with bestaction.
func (s *session) goSearch(ctx context.Context, p GoParams) {
	if s.battle == nil {
		s.writeln("info string no position")
		s.writeln("bestaction -1")
		return
	}
	snap := s.battle.SnapshotFor(s.player)

	var (
		sctx   context.Context
		cancel context.CancelFunc
	)
	if p.MoveTime > 0 && !p.Infinite {
		sctx, cancel = context.WithTimeout(ctx, time.Duration(p.MoveTime)*time.Millisecond)
	} else {
		sctx, cancel = context.WithCancel(ctx)
	}
	s.cancel = cancel

	s.search.Add(1)
	go func() {
		defer s.search.Done()
		defer cancel()
		start := time.Now()
		action, err := s.agent.Decider.Decide(sctx, snap)
		if err != nil || !snap.IsLegal(action) {
			if err != nil {
				s.writeln("info string " + err.Error())
			}
			action = -1
			if len(snap.Legal) > 0 {
				action = snap.Legal[0]
			}
		}
		s.writeln(fmt.Sprintf("info time %d legal %d action %d", time.Since(start).Milliseconds(), len(snap.Legal), action))
		s.writeln("bestaction " + strconv.Itoa(action))
	}()
}

// halt cancels a running search and waits for its answer to be written.
func (s *session) halt() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.search.Wait()
}

func (s *session) writeln(line string) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	fmt.Fprintln(s.out, line)
}

// parseSetOption splits "name <id> [value <x>]".
func parseSetOption(rest string) (name, value string) {
	rest = strings.TrimPrefix(rest, "name ")
	name, value, _ = strings.Cut(rest, " value ")
	return strings.TrimSpace(name), strings.TrimSpace(value)
}
