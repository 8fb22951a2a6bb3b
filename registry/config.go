package registry

// Config Store 配置
type Config struct {
	// InitialStatus 新注册实例的初始状态，Up 或 Starting，默认 Up
	InitialStatus Status `yaml:"initial_status" json:"initial_status"`
}

func (c *Config) setDefaults() {
	if c.InitialStatus != StatusStarting {
		c.InitialStatus = StatusUp
	}
}
