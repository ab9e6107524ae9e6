// Package scenario loads the case files that sessions are played against.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ErrNotFound is returned when no case file exists for the requested id.
var ErrNotFound = errors.New("scenario not found")

// Room is one location in a case, connected to others by its exits.
type Room struct {
	Description string            `mapstructure:"description"`
	Exits       []string          `mapstructure:"exits"`
	Clues       map[string]string `mapstructure:"clues"`
}

// Suspect is a person of interest in a case.
type Suspect struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Motive      string `mapstructure:"motive"`
}

// Question is one entry in the case's final exam.
type Question struct {
	Prompt string `mapstructure:"prompt"`
	Answer string `mapstructure:"answer"`
}

// Solution names the culprit and motive that close the case.
type Solution struct {
	Suspect string `mapstructure:"suspect"`
	Motive  string `mapstructure:"motive"`
}

// Scenario is the full content of one playable case.
type Scenario struct {
	ID        string          `mapstructure:"id"`
	Title     string          `mapstructure:"title"`
	Briefing  string          `mapstructure:"briefing"`
	StartRoom string          `mapstructure:"start_room"`
	Rooms     map[string]Room `mapstructure:"rooms"`
	Suspects  []Suspect       `mapstructure:"suspects"`
	Solution  Solution        `mapstructure:"solution"`
	Exam      []Question      `mapstructure:"exam"`
}

// FindSuspect looks a suspect up by name, case-insensitively.
func (s *Scenario) FindSuspect(name string) (*Suspect, bool) {
	for i := range s.Suspects {
		if strings.EqualFold(s.Suspects[i].Name, name) {
			return &s.Suspects[i], true
		}
	}
	return nil, false
}

// Loader fetches a case by id. Implementations must return ErrNotFound
// (possibly wrapped) for unknown ids.
type Loader interface {
	Load(id string) (*Scenario, error)
}

// FileLoader reads case files named <id>.yaml from a directory.
type FileLoader struct {
	Directory string
}

func (l *FileLoader) Load(id string) (*Scenario, error) {
	// Ids come straight off the wire; never let them escape the case directory.
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	path := filepath.Join(l.Directory, id+".yaml")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading case file %s: %w", path, err)
	}

	s := &Scenario{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("error unmarshaling case file %s: %w", path, err)
	}
	s.ID = id

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid case file %s: %w", path, err)
	}
	return s, nil
}

func (s *Scenario) validate() error {
	if s.Title == "" {
		return errors.New("missing title")
	}
	if len(s.Rooms) == 0 {
		return errors.New("no rooms defined")
	}
	if _, ok := s.Rooms[s.StartRoom]; !ok {
		return fmt.Errorf("start room %q is not defined", s.StartRoom)
	}
	for name, room := range s.Rooms {
		for _, exit := range room.Exits {
			if _, ok := s.Rooms[exit]; !ok {
				return fmt.Errorf("room %q has an exit to undefined room %q", name, exit)
			}
		}
	}
	if _, ok := s.FindSuspect(s.Solution.Suspect); !ok {
		return fmt.Errorf("solution names unknown suspect %q", s.Solution.Suspect)
	}
	return nil
}
