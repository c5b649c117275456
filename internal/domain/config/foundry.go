package config

// FoundryConfig represents the parts of foundry.toml used for upgrades
type FoundryConfig struct {
	Profile      map[string]ProfileConfig `toml:"profile"`
	RpcEndpoints map[string]string        `toml:"rpc_endpoints"`
}

// ProfileConfig represents a profile's foundry configuration
type ProfileConfig struct {
	SrcPath     string   `toml:"src,omitempty"`
	OutPath     string   `toml:"out,omitempty"`
	ExtraOutput []string `toml:"extra_output,omitempty"`
}

// OutDir returns the artifact directory of the default profile
func (c *FoundryConfig) OutDir() string {
	if c != nil {
		if p, ok := c.Profile["default"]; ok && p.OutPath != "" {
			return p.OutPath
		}
	}
	return "out"
}
