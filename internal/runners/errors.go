package runners

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownRunner      = errors.New("unknown runner")
	ErrDuplicateRunner    = errors.New("runner already registered")
	ErrUnsupportedCommand = errors.New("command not supported")
	ErrUnsupportedOption  = errors.New("option not supported")
	ErrMissingOption      = errors.New("missing required option")
	ErrInvalidOption      = errors.New("invalid option value")
)

// ErrMissingTool is returned when a required program is absent from the
// search path, or the build configuration never named it.
type ErrMissingTool struct {
	Name    string
	Command Command // set together with Unset
	Unset   bool
}

func (e ErrMissingTool) Error() string {
	if e.Unset {
		return fmt.Sprintf("cannot %s: %s is missing", e.Command, e.Name)
	}
	return fmt.Sprintf("%s is required but was not found on the search path", e.Name)
}

// ErrArtifactNotFound is returned when the build artifact selected for
// flashing does not exist on disk.
type ErrArtifactNotFound struct {
	Kind string // elf, hex or bin
	Path string
}

func (e ErrArtifactNotFound) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cannot flash: no %s file in the build configuration", e.Kind)
	}
	return fmt.Sprintf("cannot flash: %s file (%s) not found", e.Kind, e.Path)
}
