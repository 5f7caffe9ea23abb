package database

type Config struct {
	// Path of the bbolt file. The file is created on first start.
	FileName string `envconfig:"SPIN_DB_FILE" default:"spin.db"`
}

func (c *Config) DatabaseConfig() *Config {
	return c
}
