// Package bai implements the Battle Agent Interface, a line protocol for
// driving battle agents that run as separate processes. The client side
// starts the agent and asks it for actions; Serve implements the agent side.
//
// A session looks like:
//
//	> bai
//	< id name greedy
//	< option name Seed type spin default 0
//	< baiok
//	> isready
//	< readyok
//	> newbattle
//	> setplayer 1
//	> position <bfen>
//	> go movetime 500
//	< info time 3 legal 412 action 1933
//	< bestaction 1933
//	> quit
package bai

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ProtocolVersion is the protocol revision this package speaks.
const ProtocolVersion = 1

// ErrClosed is returned once the client has been closed or the agent has
// stopped writing.
var ErrClosed = errors.New("bai: agent closed")

// Client talks to one agent. Commands are written in the order they are
// issued; responses are read by a single goroutine.
type Client struct {
	path string
	args []string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	exited chan struct{}

	lines   chan string
	readErr error
	done    chan struct{}

	mu     sync.Mutex
	closed bool

	// Filled in by Init.
	ID      AgentID
	Options []Option
}

// NewClient prepares a client for the agent binary at path. Nothing is
// started until Init.
func NewClient(path string, args ...string) *Client {
	return &Client{path: path, args: args}
}

// NewConn returns a client over an existing connection, for agents that
// are not child processes. Init still performs the handshake.
func NewConn(r io.Reader, w io.WriteCloser) *Client {
	c := &Client{stdin: w}
	c.listen(r)
	return c
}

// Init starts the agent if needed and performs the handshake
// (bai -> id/option/baiok, isready -> readyok).
func (c *Client) Init(ctx context.Context) error {
	if c.lines == nil {
		if err := c.start(); err != nil {
			return fmt.Errorf("bai: start agent: %w", err)
		}
	}
	if err := c.handshake(ctx); err != nil {
		c.Close()
		return fmt.Errorf("bai: handshake: %w", err)
	}
	return nil
}

// SetOption sends "setoption".
func (c *Client) SetOption(name, value string) {
	if value == "" {
		c.send("setoption name " + name)
		return
	}
	c.send(fmt.Sprintf("setoption name %s value %s", name, value))
}

// IsReady sends "isready" and waits for "readyok".
func (c *Client) IsReady(ctx context.Context) error {
	c.send("isready")
	return c.readUntil(ctx, "readyok")
}

// NewBattle tells the agent a new battle begins.
func (c *Client) NewBattle() { c.send("newbattle") }

// SetPlayer sets the side the agent plays.
func (c *Client) SetPlayer(player int) { c.send("setplayer " + strconv.Itoa(player)) }

// Position sends the current position in BFEN.
func (c *Client) Position(bfen string) { c.send("position " + bfen) }

// Go asks for an action and collects info lines until "bestaction". When
// ctx ends first, "stop" is sent and the agent gets two seconds to answer.
func (c *Client) Go(ctx context.Context, params GoParams) (*SearchResult, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if c.exited != nil && !c.isAlive() {
		return nil, fmt.Errorf("bai: agent process is not running")
	}

	if s := params.String(); s != "" {
		c.send("go " + s)
	} else {
		c.send("go")
	}

	sr := &SearchResult{BestAction: -1}
	stopped := false
	wait := ctx
	for {
		line, err := c.next(wait)
		if err != nil {
			if stopped || ctx.Err() == nil {
				return nil, err
			}
			c.send("stop")
			stopped = true
			var cancel context.CancelFunc
			wait, cancel = context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			continue
		}
		switch {
		case strings.HasPrefix(line, "bestaction "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "bestaction ")))
			if err != nil {
				return nil, fmt.Errorf("bai: bad bestaction %q", line)
			}
			sr.BestAction = n
			return sr, nil
		case strings.HasPrefix(line, "info "):
			sr.Infos = append(sr.Infos, parseInfo(line))
		}
	}
}

// Stop interrupts the current search.
func (c *Client) Stop() { c.send("stop") }

// Quit sends "quit". Close also does this and waits for the process.
func (c *Client) Quit() { c.send("quit") }

// Close sends "quit" and waits for the agent to exit, killing it after
// three seconds.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.stdin != nil {
		fmt.Fprintln(c.stdin, "quit")
	}
	c.closed = true
	c.mu.Unlock()

	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.done != nil {
		close(c.done)
	}

	if c.exited != nil {
		select {
		case <-c.exited:
		case <-time.After(3 * time.Second):
			log.Warn().Str("agent", c.path).Msg("bai: agent did not exit within 3s, killing")
			if c.cmd != nil && c.cmd.Process != nil {
				c.cmd.Process.Kill()
			}
			<-c.exited
		}
	}
	return nil
}

// start launches the agent. The process outlives the Init context; Close
// ends it.
func (c *Client) start() error {
	c.cmd = exec.Command(c.path, c.args...)

	var err error
	c.stdin, err = c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	c.exited = make(chan struct{})
	go func() {
		c.cmd.Wait()
		close(c.exited)
	}()
	c.listen(stdout)
	return nil
}

// listen starts the reader goroutine feeding c.lines.
func (c *Client) listen(r io.Reader) {
	c.lines = make(chan string, 64)
	c.done = make(chan struct{})
	go func() {
		defer close(c.lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case c.lines <- sc.Text():
			case <-c.done:
				return
			}
		}
		c.readErr = sc.Err()
	}()
}

// next returns the following line from the agent.
func (c *Client) next(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			if c.readErr != nil {
				return "", fmt.Errorf("bai: read: %w", c.readErr)
			}
			return "", ErrClosed
		}
		return line, nil
	case <-ctx.Done():
		return "", fmt.Errorf("bai: %w", ctx.Err())
	}
}

func (c *Client) handshake(ctx context.Context) error {
	c.send("bai")
	for {
		line, err := c.next(ctx)
		if err != nil {
			return fmt.Errorf("waiting for baiok: %w", err)
		}
		if line == "baiok" {
			break
		}
		switch {
		case strings.HasPrefix(line, "id name "):
			c.ID.Name = strings.TrimPrefix(line, "id name ")
		case strings.HasPrefix(line, "id author "):
			c.ID.Author = strings.TrimPrefix(line, "id author ")
		case strings.HasPrefix(line, "protocol_version "):
			c.ID.ProtocolVersion, _ = strconv.Atoi(strings.TrimPrefix(line, "protocol_version "))
		case strings.HasPrefix(line, "option "):
			c.Options = append(c.Options, parseOption(line))
		}
	}

	c.send("isready")
	if err := c.readUntil(ctx, "readyok"); err != nil {
		return fmt.Errorf("waiting for readyok: %w", err)
	}
	return nil
}

// readUntil discards lines until want arrives.
func (c *Client) readUntil(ctx context.Context, want string) error {
	for {
		line, err := c.next(ctx)
		if err != nil {
			return err
		}
		if line == want {
			return nil
		}
	}
}

func (c *Client) send(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.stdin == nil {
		return
	}
	fmt.Fprintln(c.stdin, line)
}

func (c *Client) isAlive() bool {
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}
