package process

// Config describes an allow-listed external command.
type Config struct {
	Command     string            `yaml:"command" json:"command" mapstructure:"command"`
	Args        []string          `yaml:"args" json:"args" mapstructure:"args"`
	Environment map[string]string `yaml:"env" json:"env" mapstructure:"env"`
	// Dir overrides the runner's base directory for this command.
	Dir string `yaml:"dir" json:"dir" mapstructure:"dir"`
}

// EnvPrefix prefixes the environment variables carrying tool arguments.
const EnvPrefix = "WAYPOINT_ARG_"
