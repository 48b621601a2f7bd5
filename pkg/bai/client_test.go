package bai

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// mockAgentSource answers every go with a fixed action.
const mockAgentSource = `package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "bai":
			fmt.Println("id name mock-agent")
			fmt.Println("id author test-author")
			fmt.Println("option name Seed type spin default 0 min 0 max 100")
			fmt.Println("option name Style type combo default calm var calm var wild")
			fmt.Println("protocol_version 1")
			fmt.Println("baiok")
		case line == "isready":
			fmt.Println("readyok")
		case strings.HasPrefix(line, "go"):
			fmt.Println("info nodes 10 time 1 legal 7")
			fmt.Println("info nodes 40 time 3 score 0.5 legal 7 action 1201")
			fmt.Println("bestaction 1201")
		case line == "stop":
		case line == "quit":
			os.Exit(0)
		}
	}
}
`

// mockSilentAgentSource only answers go after stop.
const mockSilentAgentSource = `package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	searching := false
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "bai":
			fmt.Println("id name silent-agent")
			fmt.Println("baiok")
		case line == "isready":
			fmt.Println("readyok")
		case strings.HasPrefix(line, "go"):
			searching = true
		case line == "stop":
			if searching {
				searching = false
				fmt.Println("bestaction 0")
			}
		case line == "quit":
			os.Exit(0)
		}
	}
}
`

// mockCrashAgentSource exits while deciding.
const mockCrashAgentSource = `package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "bai":
			fmt.Println("id name crash-agent")
			fmt.Println("baiok")
		case line == "isready":
			fmt.Println("readyok")
		case strings.HasPrefix(line, "go"):
			os.Exit(1)
		case line == "quit":
			os.Exit(0)
		}
	}
}
`

// mockBadHandshakeSource never sends baiok.
const mockBadHandshakeSource = `package main

import "fmt"

func main() {
	fmt.Println("id name broken-agent")
}
`

// buildMockAgent compiles a Go source string into a temporary binary.
func buildMockAgent(t *testing.T, source string) string {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not on PATH")
	}

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "main.go")
	if err := os.WriteFile(srcPath, []byte(source), 0644); err != nil {
		t.Fatalf("write mock agent source: %v", err)
	}

	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	binPath := filepath.Join(dir, "mock_agent"+ext)

	cmd := exec.Command("go", "build", "-o", binPath, srcPath)
	cmd.Env = append(os.Environ(), "GOOS="+runtime.GOOS, "GOARCH="+runtime.GOARCH)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build mock agent: %v\n%s", err, out)
	}
	return binPath
}

func initClient(t *testing.T, source string) *Client {
	t.Helper()
	c := NewClient(buildMockAgent(t, source))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_Init_Handshake(t *testing.T) {
	c := initClient(t, mockAgentSource)

	if c.ID.Name != "mock-agent" {
		t.Errorf("ID.Name = %q, want mock-agent", c.ID.Name)
	}
	if c.ID.Author != "test-author" {
		t.Errorf("ID.Author = %q, want test-author", c.ID.Author)
	}
	if c.ID.ProtocolVersion != 1 {
		t.Errorf("ProtocolVersion = %d, want 1", c.ID.ProtocolVersion)
	}
	if len(c.Options) != 2 {
		t.Fatalf("Options count = %d, want 2", len(c.Options))
	}
	style := c.Options[1]
	if style.Type != "combo" || style.Default != "calm" || len(style.Vars) != 2 {
		t.Errorf("unexpected combo option %+v", style)
	}
}

func TestClient_Go_ReturnsResults(t *testing.T) {
	c := initClient(t, mockAgentSource)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.NewBattle()
	c.SetPlayer(1)
	c.Position("0:0:o/20.20/-/-")
	res, err := c.Go(ctx, GoParams{MoveTime: 100})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if res.BestAction != 1201 {
		t.Errorf("BestAction = %d, want 1201", res.BestAction)
	}
	if len(res.Infos) != 2 {
		t.Fatalf("Infos = %d, want 2", len(res.Infos))
	}
	if res.Infos[0].Action != -1 || res.Infos[1].Action != 1201 || res.Infos[1].Score != 0.5 {
		t.Errorf("unexpected infos %+v", res.Infos)
	}
}

func TestClient_Go_Timeout_SendsStop(t *testing.T) {
	c := initClient(t, mockSilentAgentSource)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	res, err := c.Go(ctx, GoParams{Infinite: true})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if res.BestAction != 0 {
		t.Errorf("BestAction = %d, want 0", res.BestAction)
	}
}

func TestClient_Go_CrashedAgent(t *testing.T) {
	c := initClient(t, mockCrashAgentSource)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := c.Go(ctx, GoParams{MoveTime: 100}); err == nil {
		t.Fatal("expected error from crashed agent")
	}
}

func TestClient_Close_Twice(t *testing.T) {
	c := initClient(t, mockAgentSource)
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := c.Go(context.Background(), GoParams{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Go after Close = %v, want ErrClosed", err)
	}
}

func TestClient_BadHandshake(t *testing.T) {
	bin := buildMockAgent(t, mockBadHandshakeSource)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewClient(bin)
	if err := c.Init(ctx); err == nil {
		c.Close()
		t.Fatal("expected error from bad handshake")
	}
}

func TestClient_InvalidPath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewClient("/nonexistent/agent/binary")
	if err := c.Init(ctx); err == nil {
		c.Close()
		t.Fatal("expected error for invalid agent path")
	}
}
