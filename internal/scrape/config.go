package scrape

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// JSON array of scrape targets, e.g. [{"url": "http://host/points"}]
	Targets Targets `envconfig:"SPIN_SCRAPE_TARGET_URLS"`
	// Optional TOML file with one [[targets]] block per target. The file
	// wins over SPIN_SCRAPE_TARGET_URLS when both are set.
	ConfigFile           string        `envconfig:"SPIN_SCRAPE_CONFIG_FILE"`
	MaxConcurrentRequest int           `envconfig:"SPIN_SCRAPE_MAX_CONCURRENT_REQUEST" default:"64"`
	Interval             time.Duration `envconfig:"SPIN_SCRAPE_INTERVAL" default:"1s"`
	RequestTimeout       time.Duration `envconfig:"SPIN_SCRAPE_REQUEST_TIMEOUT" default:"30s"`
}

type Targets []Target

func (ts *Targets) Decode(value string) error {
	targets := []Target{}
	if err := json.Unmarshal([]byte(value), &targets); err != nil {
		return err
	}
	*ts = targets
	return nil
}

type Target struct {
	URL string `json:"url" toml:"url"`
}

type fileTargets struct {
	Targets []Target `toml:"targets"`
}

// LoadTargets resolves the effective target list: the TOML config file
// when one is configured, the environment targets otherwise.
func (c *Config) LoadTargets() (Targets, error) {
	if c.ConfigFile == "" {
		return c.Targets, nil
	}
	var file fileTargets
	if _, err := toml.DecodeFile(c.ConfigFile, &file); err != nil {
		return nil, fmt.Errorf("decode scrape config %s: %v", c.ConfigFile, err)
	}
	return file.Targets, nil
}
