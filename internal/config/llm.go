package config

// LLMConfig configures the model-calling collaborator.
type LLMConfig struct {
	Provider          string `yaml:"provider"` // gemini, replay
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	Timeout           string `yaml:"timeout"`
	RequestsPerMinute int    `yaml:"requests_per_minute"` // 0 disables client-side limiting
}
