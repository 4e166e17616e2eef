package util

// EnvMode defines the environment variable inference mode for a task run
type EnvMode string

const (
	// Infer means turbo has not yet decided which mode a task should run in.
	// It is resolved to either Loose or Strict before a task hash is calculated.
	Infer EnvMode = "infer"

	// Loose means a task can access the entire environment, and env var
	// passthrough declarations are not part of the task hash.
	Loose EnvMode = "loose"

	// Strict means a task can only access the environment variables it
	// declares via "env" and "passThroughEnv", and the declarations
	// themselves are part of the task hash.
	Strict EnvMode = "strict"
)
