package command

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "judge",
			Action:       "submit",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			Fields: []Field{
				{Name: "team_id", Prompt: "team_id", Required: true},
				{Name: "problem_id", Prompt: "problem_id", Required: true},
				{Name: "language", Prompt: "language", Required: true},
				{Name: "code", Prompt: "code", Required: true},
				{Name: "contest_id", Prompt: "contest_id", Required: false},
				{Name: "code_file", Prompt: "code_file", Required: false},
			},
		},
		{
			Service:      "judge",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Required: true},
			},
		},
		{
			Service:      "judge",
			Action:       "languages",
			Method:       "GET",
			PathTemplate: "/api/v1/languages",
		},
		{
			Service:      "judge",
			Action:       "pool",
			Method:       "GET",
			PathTemplate: "/api/v1/judge/pool",
		},
		{
			Service:      "problem",
			Action:       "signature",
			Method:       "GET",
			PathTemplate: "/api/v1/problems/:id/signature",
			QueryFields:  []string{"language"},
			Fields: []Field{
				{Name: "id", Prompt: "problem_id", Required: true},
				{Name: "language", Prompt: "language", Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "board",
			Method:       "GET",
			PathTemplate: "/api/v1/contests/:id/leaderboard",
			QueryFields:  []string{"full"},
			Fields: []Field{
				{Name: "id", Prompt: "contest_id", Required: true},
				{Name: "full", Prompt: "full (true for the unfrozen board)", Required: false},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// BuildRequest creates an HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	query := map[string]string{}
	for _, key := range cmd.QueryFields {
		if value := params.Get(key); value != "" {
			query[key] = value
		}
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method: cmd.Method,
		Path:   path,
		Query:  query,
		Body:   body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	if strings.Contains(path, ":id") {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", value)
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Service == "judge" && cmd.Action == "submit" {
		return buildSubmitPayload(params)
	}
	return nil, nil
}

func buildSubmitPayload(params Params) (interface{}, error) {
	code := params.Get("code")
	if (code == "" || code == "_file_") && params.Get("code_file") != "" {
		var err error
		code, err = ReadFile(params.Get("code_file"))
		if err != nil {
			return nil, err
		}
	}
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	payload := map[string]interface{}{
		"team_id":    params.Get("team_id"),
		"problem_id": params.Get("problem_id"),
		"language":   params.Get("language"),
		"code":       code,
	}
	if params.Get("contest_id") != "" {
		payload["contest_id"] = params.Get("contest_id")
	}
	return payload, nil
}
