package slo

import "fmt"

// UnknownSLOError indicates a measurement or query against an SLO that
// was never defined.
type UnknownSLOError struct {
	Name string
}

func (e *UnknownSLOError) Error() string {
	return fmt.Sprintf("unknown SLO %q", e.Name)
}

// DefinitionError indicates an invalid SLO definition.
type DefinitionError struct {
	Name   string
	Reason string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("SLO %q: %s", e.Name, e.Reason)
}
