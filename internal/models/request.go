package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// StartRequest is the body of POST /api/start.
type StartRequest struct {
	Script    string `json:"script"`
	Name      string `json:"name"`
	Args      Args   `json:"args"`
	Instances int    `json:"instances"`
	ExecMode  string `json:"exec_mode"`
}

// Args accepts either a JSON array of strings or a single command-line
// string, which is split with shell word rules.
type Args []string

func (a *Args) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*a = nil
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*a = list
		return nil
	}

	var line string
	if err := json.Unmarshal(data, &line); err != nil {
		return fmt.Errorf("args must be a string or an array of strings")
	}
	fields, err := SplitArgs(line)
	if err != nil {
		return err
	}
	*a = fields
	return nil
}

// SplitArgs splits a command line into words. Variables expand to nothing so
// the panel's own environment never leaks into arguments.
func SplitArgs(line string) ([]string, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	fields, err := shell.Fields(line, func(string) string { return "" })
	if err != nil {
		return nil, fmt.Errorf("invalid args %q: %w", line, err)
	}
	return fields, nil
}
