package plugin

import "os"

// Environment controls registry validation defaults.
type Environment string

// Recognized environments.
const (
	Development Environment = "development"
	Production  Environment = "production"
)

// DetectEnvironment reads RAGLINE_ENV (falling back to NODE_ENV for
// compatibility with pipelines migrated from Node tooling) and returns
// Production only on an exact "production" match. Anything else, including
// unset, is Development.
func DetectEnvironment() Environment {
	env := os.Getenv("RAGLINE_ENV")
	if env == "" {
		env = os.Getenv("NODE_ENV")
	}
	if env == string(Production) {
		return Production
	}
	return Development
}

// IsProduction returns true for the production environment.
func (e Environment) IsProduction() bool {
	return e == Production
}
