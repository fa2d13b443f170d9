package config

// Defaults returns the built-in configuration used when the config file
// omits a section (or is absent entirely).
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Provider: ProviderConfig{
			Type:  "anthropic",
			Model: "",
		},
		Chat: ChatConfig{
			MaxMessageChars:   10000,
			MaxToolIterations: 8,
			RateLimitMax:      10,
			RateLimitWindowS:  60,
		},
		Store: StoreConfig{
			Backend:  "memory",
			TTLHours: 24,
		},
		Prompts: PromptConfig{
			Dir: "prompts",
		},
		RolesFile: "roles.toml",
	}
}
