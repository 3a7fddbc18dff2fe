// Package cliconfig loads flag defaults for the taskdeck command from YAML.
//
// Top-level keys set global flags; a mapping named after a command sets that
// command's flags:
//
//	server: http://localhost:8080
//	log-level: debug
//	serve:
//	  addr: ":9000"
//	  access-ttl: 5m
package cliconfig

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// YAML is a kong.ConfigurationLoader. Keys may use dashes or underscores.
func YAML(r io.Reader) (kong.Resolver, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	values := make(map[string]string)
	if err := flatten("", doc, values); err != nil {
		return nil, err
	}

	return kong.ResolverFunc(func(_ *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		for _, key := range candidates(parent, flag) {
			if v, ok := values[key]; ok {
				return v, nil
			}
		}
		return nil, nil
	}), nil
}

// flatten turns nested mappings into dotted keys. Scalars become strings and
// sequences comma-joined strings, which every kong mapper accepts.
func flatten(prefix string, doc map[string]any, out map[string]string) error {
	for k, v := range doc {
		key := normalize(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		switch v := v.(type) {
		case map[string]any:
			if err := flatten(key, v, out); err != nil {
				return err
			}
		case []any:
			parts := make([]string, len(v))
			for i, item := range v {
				if _, nested := item.(map[string]any); nested {
					return fmt.Errorf("config key %q: lists of mappings are not supported", key)
				}
				parts[i] = fmt.Sprint(item)
			}
			out[key] = strings.Join(parts, ",")
		case nil:
			// "key:" with no value leaves the default alone.
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return nil
}

// candidates lists the keys that may hold flag, most specific first.
func candidates(parent *kong.Path, flag *kong.Flag) []string {
	name := normalize(flag.Name)
	var keys []string
	if parent != nil {
		if cmd := commandPath(parent.Node()); cmd != "" {
			keys = append(keys, cmd+"."+name)
		}
	}
	return append(keys, name)
}

func commandPath(n *kong.Node) string {
	var parts []string
	for ; n != nil; n = n.Parent {
		if n.Type == kong.CommandNode {
			parts = append([]string{normalize(n.Name)}, parts...)
		}
	}
	return strings.Join(parts, ".")
}

func normalize(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "-")
}
