// ABOUTME: Minimal flag parsing for probe-fleet subcommands
// ABOUTME: Accepts --name value, --name=value and bare boolean switches

package main

import (
	"fmt"
	"strconv"
	"strings"
)

// boolFlags never consume the following argument.
var boolFlags = map[string]bool{
	"force":   true,
	"rollout": true,
	"json":    true,
}

type parsedArgs struct {
	positional []string
	flags      map[string]string
}

func parseArgs(args []string) (*parsedArgs, error) {
	p := &parsedArgs{flags: make(map[string]string)}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			p.positional = append(p.positional, arg)
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		if name == "" {
			return nil, fmt.Errorf("empty flag name")
		}
		if key, val, ok := strings.Cut(name, "="); ok {
			p.flags[key] = val
			continue
		}
		if boolFlags[name] {
			p.flags[name] = "true"
			continue
		}
		if i+1 >= len(args) || strings.HasPrefix(args[i+1], "--") {
			return nil, fmt.Errorf("--%s requires a value", name)
		}
		p.flags[name] = args[i+1]
		i++
	}
	return p, nil
}

func (p *parsedArgs) get(name, def string) string {
	if v, ok := p.flags[name]; ok {
		return v
	}
	return def
}

func (p *parsedArgs) bool(name string) bool {
	v, err := strconv.ParseBool(p.flags[name])
	return err == nil && v
}

func (p *parsedArgs) int(name string, def int) (int, error) {
	v, ok := p.flags[name]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return n, nil
}

// list splits a comma separated flag, dropping empty entries.
func (p *parsedArgs) list(name string) []string {
	var out []string
	for _, part := range strings.Split(p.flags[name], ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// arg returns the i-th positional argument or an error naming it.
func (p *parsedArgs) arg(i int, what string) (string, error) {
	if i >= len(p.positional) {
		return "", fmt.Errorf("missing %s", what)
	}
	return p.positional[i], nil
}
