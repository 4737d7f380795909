package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"gavel/internal/cli/command"
	httpclient "gavel/internal/cli/http"
	"gavel/internal/cli/state"
)

const prompt = "gavel> "

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	defaults   *state.Defaults
	statePath  string
	prettyJSON bool
	rl         *readline.Instance
}

func New(client *httpclient.Client, commands map[string]command.Command, defaults *state.Defaults, statePath string, prettyJSON bool) (*Session, error) {
	rl, err := readline.New(prompt)
	if err != nil {
		return nil, fmt.Errorf("init readline failed: %w", err)
	}
	return &Session{
		client:     client,
		commands:   commands,
		defaults:   defaults,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		rl:         rl,
	}, nil
}

func (s *Session) Run(ctx context.Context) {
	defer func() { _ = s.rl.Close() }()
	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if s.handleSystemCommand(line) {
			continue
		}

		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		_ = s.rl.Close()
		os.Exit(0)
	case "help":
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout|team|contest|language")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8080")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "team", "contest", "language":
		if len(parts) < 2 {
			s.printLine("usage: set %s <value>", parts[0])
			return
		}
		switch parts[0] {
		case "team":
			s.defaults.TeamID = parts[1]
		case "contest":
			s.defaults.ContestID = parts[1]
		case "language":
			s.defaults.Language = parts[1]
		}
		if err := state.Save(s.statePath, *s.defaults); err != nil {
			s.printLine("save defaults failed: %v", err)
			return
		}
		s.printLine("%s set to %s", parts[0], parts[1])
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "defaults":
		s.printLine("team: %s", orEmpty(s.defaults.TeamID))
		s.printLine("contest: %s", orEmpty(s.defaults.ContestID))
		s.printLine("language: %s", orEmpty(s.defaults.Language))
	case "config":
		s.printLine("statePath: %s", s.statePath)
	default:
		s.printLine("usage: show defaults|config")
	}
}

func orEmpty(value string) string {
	if value == "" {
		return "<empty>"
	}
	return value
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	service := tokens[0]
	action := tokens[1]
	key := fmt.Sprintf("%s %s", service, action)
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", service, action)
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}

	s.applyDefaults(&cmd, params)
	if err := s.promptMissing(&cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Query, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.rememberSubmitDefaults(cmd, params)
	return nil
}

// applyDefaults fills sticky submit fields from the saved defaults and
// marks code as file-backed when only code_file was given.
func (s *Session) applyDefaults(cmd *command.Command, params command.Params) {
	if cmd.Service != "judge" || cmd.Action != "submit" {
		return
	}
	if params.Get("team_id") == "" && s.defaults.TeamID != "" {
		params.Set("team_id", s.defaults.TeamID)
	}
	if params.Get("contest_id") == "" && s.defaults.ContestID != "" {
		params.Set("contest_id", s.defaults.ContestID)
	}
	if params.Get("language") == "" && s.defaults.Language != "" {
		params.Set("language", s.defaults.Language)
	}
	if params.Get("code_file") != "" && params.Get("code") == "" {
		params.Set("code", "_file_")
	}
}

func (s *Session) rememberSubmitDefaults(cmd command.Command, params command.Params) {
	if cmd.Service != "judge" || cmd.Action != "submit" {
		return
	}
	changed := false
	if v := params.Get("team_id"); v != "" && v != s.defaults.TeamID {
		s.defaults.TeamID = v
		changed = true
	}
	if v := params.Get("contest_id"); v != "" && v != s.defaults.ContestID {
		s.defaults.ContestID = v
		changed = true
	}
	if v := params.Get("language"); v != "" && v != s.defaults.Language {
		s.defaults.Language = v
		changed = true
	}
	if changed {
		_ = state.Save(s.statePath, *s.defaults)
	}
}

func (s *Session) promptMissing(cmd *command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required {
			continue
		}
		if params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(label string) (string, error) {
	s.rl.SetPrompt(label + ": ")
	defer s.rl.SetPrompt(prompt)
	line, err := s.rl.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|team|contest|language | show defaults|config")
	s.printLine("examples:")
	s.printLine("  judge submit problem_id=p1 language=cpp code_file=./main.cpp")
	s.printLine("  judge status id=6f1c2a9e-...")
	s.printLine("  judge languages")
	s.printLine("  problem signature id=p1 language=go")
	s.printLine("  contest board id=demo-2026")
	s.printLine("  contest board id=demo-2026 full=true")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.rl.Stdout(), format+"\n", args...)
}
