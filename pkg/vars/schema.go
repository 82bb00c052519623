// Copyright 2024 The rovhub Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vars

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rovhub/rovhub/pkg/client"
	"github.com/rovhub/rovhub/pkg/logging"
)

// entry is one parsed `key = value` line.
type entry struct {
	key   string
	value string
	line  int
}

// parseFile reads a line-oriented `key = value` file. Blank lines and lines
// starting with # are ignored.
func parseFile(path string) ([]entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []entry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("%s:%d: expected 'key = value'", path, lineNo)
		}
		entries = append(entries, entry{
			key:   strings.TrimSpace(key),
			value: strings.TrimSpace(value),
			line:  lineNo,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return entries, nil
}

// New builds the variable table from the schema file, then seeds persistent
// values from the database file. Each schema line has the form
//
//	<name> = <default> , <persistent{0,1}> , <readonly{0,1}>
//
// A missing database file is created empty. A database value for an unknown
// variable is fatal; a value for a non-persistent variable logs a warning
// and is ignored.
func New(defsPath, dbPath string, sink *logging.Sink) (*Store, error) {
	if defsPath == "" {
		return nil, fmt.Errorf("no variable definitions file configured")
	}

	defs, err := parseFile(defsPath)
	if err != nil {
		return nil, fmt.Errorf("variable definitions: %w", err)
	}

	s := &Store{
		vars:   make(map[string]*Variable, len(defs)),
		dbPath: dbPath,
		sink:   sink,
		wake:   make(chan struct{}, 1),
	}

	for _, def := range defs {
		v, err := parseDefinition(def)
		if err != nil {
			return nil, err
		}
		if _, dup := s.vars[v.Name]; dup {
			return nil, fmt.Errorf("%s:%d: duplicate variable %q", defsPath, def.line, v.Name)
		}
		s.vars[v.Name] = v
		if v.Persistent {
			s.persistent = append(s.persistent, v.Name)
		}
	}

	if s.HasPersistent() {
		if err := s.loadValues(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func parseDefinition(def entry) (*Variable, error) {
	fields := strings.Split(def.value, ",")
	if len(fields) != 3 {
		return nil, fmt.Errorf("variable %q: expected '<default> , <persistent> , <readonly>', got %q", def.key, def.value)
	}

	defaultValue, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("variable %q: bad default value %q", def.key, strings.TrimSpace(fields[0]))
	}

	persistent, err := parseFlag(fields[1])
	if err != nil {
		return nil, fmt.Errorf("variable %q: persistent flag %w", def.key, err)
	}
	readonly, err := parseFlag(fields[2])
	if err != nil {
		return nil, fmt.Errorf("variable %q: readonly flag %w", def.key, err)
	}

	return &Variable{
		Name:        def.key,
		Default:     defaultValue,
		Persistent:  persistent,
		ReadOnly:    readonly,
		value:       defaultValue,
		subscribers: make(map[string]*client.Client),
	}, nil
}

func parseFlag(field string) (bool, error) {
	switch strings.TrimSpace(field) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("should be 0 or 1, got %q", strings.TrimSpace(field))
	}
}

// loadValues seeds current values from the persistent database file.
func (s *Store) loadValues() error {
	if s.dbPath == "" {
		return fmt.Errorf("no variable database configured")
	}

	if _, err := os.Stat(s.dbPath); os.IsNotExist(err) {
		f, err := os.Create(s.dbPath)
		if err != nil {
			return fmt.Errorf("creating variable database: %w", err)
		}
		return f.Close()
	}

	values, err := parseFile(s.dbPath)
	if err != nil {
		return fmt.Errorf("variable database: %w", err)
	}

	for _, e := range values {
		v, ok := s.vars[e.key]
		if !ok {
			return fmt.Errorf("%s:%d: variable %q in database but not in definitions", s.dbPath, e.line, e.key)
		}
		value, err := strconv.ParseFloat(e.value, 64)
		if err != nil {
			return fmt.Errorf("%s:%d: bad value %q for variable %q", s.dbPath, e.line, e.value, e.key)
		}
		if !v.Persistent {
			if s.sink != nil {
				s.sink.Logf(logging.Warning, "Loading value for non-persistent variable %q from database", e.key)
			}
			continue
		}
		v.value = value
	}
	return nil
}
