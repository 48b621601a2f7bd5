package bai

import (
	"fmt"
	"strconv"
	"strings"
)

// Info is one "info" line emitted while an agent searches.
type Info struct {
	Nodes  int
	Time   int // milliseconds
	Score  float64
	Legal  int
	Action int // -1 when the line names no action
	String string
}

// SearchResult is what a "go" command produced.
type SearchResult struct {
	BestAction int
	Infos      []Info
}

// AgentID is the identification sent during the handshake.
type AgentID struct {
	Name            string
	Author          string
	ProtocolVersion int
}

// Option is a setting advertised by an agent.
type Option struct {
	Name    string
	Type    string
	Default string
	Min     string
	Max     string
	Vars    []string
}

// line renders the option the way an agent announces it.
func (o Option) line() string {
	var sb strings.Builder
	sb.WriteString("option name ")
	sb.WriteString(o.Name)
	sb.WriteString(" type ")
	sb.WriteString(o.Type)
	if o.Default != "" {
		sb.WriteString(" default " + o.Default)
	}
	if o.Min != "" {
		sb.WriteString(" min " + o.Min)
	}
	if o.Max != "" {
		sb.WriteString(" max " + o.Max)
	}
	for _, v := range o.Vars {
		sb.WriteString(" var " + v)
	}
	return sb.String()
}

// GoParams limits a search.
type GoParams struct {
	MoveTime int  // milliseconds; 0 leaves it to the agent
	Infinite bool // search until stop
}

// String formats the parameters as a "go" suffix.
func (p GoParams) String() string {
	if p.Infinite {
		return "infinite"
	}
	if p.MoveTime > 0 {
		return fmt.Sprintf("movetime %d", p.MoveTime)
	}
	return ""
}

// parseGoParams reads the arguments of a "go" line.
func parseGoParams(args []string) GoParams {
	var p GoParams
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "infinite":
			p.Infinite = true
		case "movetime":
			if i+1 < len(args) {
				i++
				p.MoveTime, _ = strconv.Atoi(args[i])
			}
		}
	}
	return p
}

// parseInfo reads an "info" line. Missing fields keep their zero values.
func parseInfo(line string) Info {
	info := Info{Action: -1}
	tokens := strings.Fields(line)
	for i := 1; i < len(tokens); i++ {
		if tokens[i] == "string" {
			info.String = strings.Join(tokens[i+1:], " ")
			return info
		}
		if i+1 >= len(tokens) {
			break
		}
		val := tokens[i+1]
		switch tokens[i] {
		case "nodes":
			info.Nodes, _ = strconv.Atoi(val)
		case "time":
			info.Time, _ = strconv.Atoi(val)
		case "score":
			info.Score, _ = strconv.ParseFloat(val, 64)
		case "legal":
			info.Legal, _ = strconv.Atoi(val)
		case "action":
			info.Action, _ = strconv.Atoi(val)
		default:
			continue
		}
		i++
	}
	return info
}

// parseOption reads an "option" line from the handshake.
func parseOption(line string) Option {
	var opt Option
	tokens := strings.Fields(line)
	for i := 1; i+1 < len(tokens); i++ {
		val := tokens[i+1]
		switch tokens[i] {
		case "name":
			opt.Name = val
		case "type":
			opt.Type = val
		case "default":
			opt.Default = val
		case "min":
			opt.Min = val
		case "max":
			opt.Max = val
		case "var":
			opt.Vars = append(opt.Vars, val)
		default:
			continue
		}
		i++
	}
	return opt
}
