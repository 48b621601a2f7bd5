package bai

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/freeeve/kriegsim/pkg/battle"
)

// pickDecider returns the legal action at a fixed position in the list.
type pickDecider struct{ at int }

func (d pickDecider) Decide(_ context.Context, s *battle.Snapshot) (int, error) {
	if len(s.Legal) == 0 {
		return -1, errors.New("nothing legal")
	}
	return s.Legal[d.at%len(s.Legal)], nil
}

// slowDecider blocks until its context ends, then answers.
type slowDecider struct{}

func (slowDecider) Decide(ctx context.Context, s *battle.Snapshot) (int, error) {
	<-ctx.Done()
	return s.Legal[1], nil
}

type failDecider struct{}

func (failDecider) Decide(context.Context, *battle.Snapshot) (int, error) {
	return 0, errors.New("model unavailable")
}

func testAgent(d Decider) Agent {
	return Agent{
		ID:      AgentID{Name: "test-agent", Author: "tests"},
		Options: []Option{{Name: "Seed", Type: "spin", Default: "0", Min: "0", Max: "1000"}},
		Rules:   battle.DefaultRules(),
		Decider: d,
	}
}

// startSession runs Serve over pipes and returns an initialised client.
func startSession(t *testing.T, a Agent) *Client {
	t.Helper()
	clientR, agentW := io.Pipe()
	agentR, clientW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- Serve(ctx, agentR, agentW, a)
		agentW.Close()
	}()

	c := NewConn(clientR, clientW)
	t.Cleanup(func() {
		c.Close()
		select {
		case err := <-served:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after quit")
		}
		cancel()
	})

	initCtx, initCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer initCancel()
	if err := c.Init(initCtx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return c
}

func openingBFEN(t *testing.T) string {
	t.Helper()
	b, err := battle.New(battle.DefaultDeployment(), battle.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	return battle.EncodeBFEN(b)
}

func TestServe_Handshake(t *testing.T) {
	c := startSession(t, testAgent(pickDecider{}))

	if c.ID.Name != "test-agent" || c.ID.Author != "tests" {
		t.Errorf("unexpected id %+v", c.ID)
	}
	if c.ID.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol version = %d, want %d", c.ID.ProtocolVersion, ProtocolVersion)
	}
	if len(c.Options) != 1 || c.Options[0].Name != "Seed" || c.Options[0].Max != "1000" {
		t.Errorf("unexpected options %+v", c.Options)
	}
}

func TestServe_GoReturnsDecision(t *testing.T) {
	c := startSession(t, testAgent(pickDecider{at: 3}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bfen := openingBFEN(t)
	b, _ := battle.DecodeBFEN(bfen, battle.DefaultRules())
	want := b.LegalActions()[3]

	c.NewBattle()
	c.SetPlayer(0)
	c.Position(bfen)
	res, err := c.Go(ctx, GoParams{})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if res.BestAction != want {
		t.Errorf("BestAction = %d, want %d", res.BestAction, want)
	}
	if len(res.Infos) != 1 || res.Infos[0].Action != want || res.Infos[0].Legal != len(b.LegalActions()) {
		t.Errorf("unexpected infos %+v", res.Infos)
	}
	if err := c.IsReady(ctx); err != nil {
		t.Errorf("IsReady after go: %v", err)
	}
}

func TestServe_StopOnContextEnd(t *testing.T) {
	c := startSession(t, testAgent(slowDecider{}))
	c.Position(openingBFEN(t))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := c.Go(ctx, GoParams{Infinite: true})
	if err != nil {
		t.Fatalf("Go after stop: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("stop took %v", time.Since(start))
	}
	if res.BestAction < 0 {
		t.Errorf("expected an action after stop, got %d", res.BestAction)
	}
}

func TestServe_MoveTime(t *testing.T) {
	c := startSession(t, testAgent(slowDecider{}))
	c.Position(openingBFEN(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Go(ctx, GoParams{MoveTime: 50})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if res.BestAction < 0 {
		t.Errorf("expected an action when movetime expires, got %d", res.BestAction)
	}
}

func TestServe_FailingDeciderFallsBack(t *testing.T) {
	c := startSession(t, testAgent(failDecider{}))
	bfen := openingBFEN(t)
	c.Position(bfen)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Go(ctx, GoParams{})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	b, _ := battle.DecodeBFEN(bfen, battle.DefaultRules())
	if res.BestAction != b.LegalActions()[0] {
		t.Errorf("expected first legal action, got %d", res.BestAction)
	}
	found := false
	for _, info := range res.Infos {
		if strings.Contains(info.String, "model unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the error in an info string, got %+v", res.Infos)
	}
}

func TestServe_NoPosition(t *testing.T) {
	c := startSession(t, testAgent(pickDecider{}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := c.Go(ctx, GoParams{})
	if err != nil || res.BestAction != -1 {
		t.Fatalf("expected bestaction -1 without a position, got %+v %v", res, err)
	}

	c.Position("garbage")
	res, err = c.Go(ctx, GoParams{})
	if err != nil || res.BestAction != -1 {
		t.Fatalf("expected bestaction -1 after a bad position, got %+v %v", res, err)
	}
}

func TestServe_SetOption(t *testing.T) {
	var mu sync.Mutex
	got := map[string]string{}
	a := testAgent(pickDecider{})
	a.OnOption = func(name, value string) error {
		mu.Lock()
		defer mu.Unlock()
		got[name] = value
		return nil
	}
	c := startSession(t, a)

	c.SetOption("Seed", "42")
	c.SetOption("Verbose", "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.IsReady(ctx); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got["Seed"] != "42" {
		t.Errorf("Seed = %q, want 42", got["Seed"])
	}
	if v, ok := got["Verbose"]; !ok || v != "" {
		t.Errorf("Verbose should be set with no value, got %q ok=%v", v, ok)
	}
}

func TestClient_GoAfterClose(t *testing.T) {
	c := startSession(t, testAgent(pickDecider{}))
	c.Close()
	if _, err := c.Go(context.Background(), GoParams{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
