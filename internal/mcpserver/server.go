// Package mcpserver exposes hosted battles as Model Context Protocol tools,
// so a language model can create a battle, read its seat's view and act.
// It talks to a running battle server over its HTTP API.
package mcpserver

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/freeeve/kriegsim/internal/agent"
)

const (
	serverName    = "kriegsim"
	serverVersion = "0.1.0"

	// callTimeout bounds each API call a tool makes.
	callTimeout = 15 * time.Second
	// maxListedActions caps the legal actions described in one observation.
	maxListedActions = 200
)

// NewServer builds an MCP server whose tools act through client. Seat tokens
// picked up by battle_create and battle_join stay in client for later calls.
func NewServer(client *agent.Client) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	t := &tools{client: client}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "scenario_list",
		Description: "Lists the scenarios a battle can be set up from",
	}, t.scenarioList)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "battle_create",
		Description: "Creates a battle with you on one seat and a built-in agent on the other",
	}, t.battleCreate)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "battle_join",
		Description: "Takes a seat in an existing battle using its seat token",
	}, t.battleJoin)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "battle_state",
		Description: "Returns the status, turn, side to act and outcome of a battle",
	}, t.battleState)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "battle_observe",
		Description: "Returns a player's units and legal actions",
	}, t.battleObserve)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "battle_act",
		Description: "Submits an action for your seat, by index or as slot, kind and target",
	}, t.battleAct)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "battle_resign",
		Description: "Resigns your seat; the opponent wins",
	}, t.battleResign)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "battle_turns",
		Description: "Lists the recorded turns of a battle",
	}, t.battleTurns)
	return server
}

// Serve runs the server over stdin and stdout until ctx is done or the
// client disconnects.
func Serve(ctx context.Context, client *agent.Client) error {
	return NewServer(client).Run(ctx, &mcp.StdioTransport{})
}
