package core

var config *CoreConfig

type CoreConfig struct {
	// RecoveryDB is the path of the sqlite database that caches fully
	// recovered track payloads between mounts. Empty disables the cache.
	RecoveryDB string `yaml:"recovery_db"`
}

func Init(c *CoreConfig) {
	config = c
}

func Conf() *CoreConfig {
	if config == nil {
		return &CoreConfig{}
	}
	return config
}
