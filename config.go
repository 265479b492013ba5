package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/horgh/config"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds a server's configuration.
type Config struct {
	ServerName  string `validate:"required,max=63"`
	ListenAddr  string `validate:"required,hostname_port"`
	ServerInfo  string `validate:"max=100"`
	Version     string `validate:"required"`
	CreatedDate string

	// Lines of the MOTD. Empty means we have none.
	MOTD []string

	// Connection password for clients. Empty means none is needed.
	Password string

	MaxNickLength int `validate:"min=1,max=30"`

	// Period of time a client can be idle before we send it a PING.
	PingTime time.Duration `validate:"gt=0"`

	// Period of time a client can be idle before we consider it dead.
	DeadTime time.Duration `validate:"gtfield=PingTime"`

	// How long a write may take before we give up on the connection.
	WriteTimeout time.Duration `validate:"gt=0"`

	// Lines per second a client may send once its burst is spent.
	FloodRate  float64 `validate:"gt=0"`
	FloodBurst int     `validate:"min=1"`

	// Oper name to password. A password starting with $2 is a bcrypt hash.
	Opers map[string]string

	// Servers we know how to link with.
	Links []LinkConfig `validate:"dive"`

	// Accept links from any server. Set when no links file is configured.
	OpenLinking bool

	// Addresses given with --link. We dial them at startup.
	ConnectTo []string `validate:"dive,hostname_port"`

	MetricsListen string `validate:"omitempty,hostname_port"`
}

// LinkConfig defines how to link to a server.
type LinkConfig struct {
	Name        string `yaml:"name" toml:"name" validate:"required,max=63"`
	Address     string `yaml:"address" toml:"address" validate:"required,hostname_port"`
	Password    string `yaml:"password" toml:"password"`
	Autoconnect bool   `yaml:"autoconnect" toml:"autoconnect"`
}

type linksFile struct {
	Links []LinkConfig `yaml:"links" toml:"links"`
}

func defaultConfig(serverName, listenAddr string) Config {
	return Config{
		ServerName:    serverName,
		ListenAddr:    listenAddr,
		ServerInfo:    "catlink IRC server",
		Version:       "catlink-1.0",
		CreatedDate:   time.Now().UTC().Format("2006-01-02"),
		MaxNickLength: 9,
		PingTime:      60 * time.Second,
		DeadTime:      240 * time.Second,
		WriteTimeout:  30 * time.Second,
		FloodRate:     2,
		FloodBurst:    10,
		Opers:         map[string]string{},
		OpenLinking:   true,
	}
}

// readConfigFile overlays the keys found in a config file onto c. All keys
// are optional.
func (c *Config) readConfigFile(file string) error {
	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return errors.Wrap(err, "unable to read config")
	}

	if v, ok := configMap["server-info"]; ok {
		c.ServerInfo = v
	}
	if v, ok := configMap["version"]; ok {
		c.Version = v
	}
	if v, ok := configMap["created-date"]; ok {
		c.CreatedDate = v
	}
	if v, ok := configMap["motd"]; ok && v != "" {
		c.MOTD = strings.Split(v, `\n`)
	}
	if v, ok := configMap["password"]; ok {
		c.Password = v
	}

	if v, ok := configMap["max-nick-length"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "max nick length is not valid")
		}
		c.MaxNickLength = n
	}

	durations := []struct {
		key  string
		dest *time.Duration
	}{
		{"ping-time", &c.PingTime},
		{"dead-time", &c.DeadTime},
		{"write-timeout", &c.WriteTimeout},
	}
	for _, d := range durations {
		v, ok := configMap[d.key]
		if !ok {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%s is in invalid format", d.key)
		}
		*d.dest = dur
	}

	if v, ok := configMap["flood-rate"]; ok {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrap(err, "flood rate is not valid")
		}
		c.FloodRate = r
	}
	if v, ok := configMap["flood-burst"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "flood burst is not valid")
		}
		c.FloodBurst = n
	}

	if v, ok := configMap["opers-config"]; ok && v != "" {
		opers, err := config.ReadStringMap(v)
		if err != nil {
			return errors.Wrap(err, "unable to load opers config")
		}
		c.Opers = opers
	}

	if v, ok := configMap["links-config"]; ok && v != "" {
		links, err := readLinksFile(v)
		if err != nil {
			return err
		}
		c.Links = links
		c.OpenLinking = false
	}

	if v, ok := configMap["metrics-listen"]; ok {
		c.MetricsListen = v
	}

	return nil
}

// readLinksFile reads link definitions from YAML or TOML. The extension
// decides which. Anything else is read as YAML.
func readLinksFile(file string) ([]LinkConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read links config")
	}

	var lf linksFile
	switch {
	case strings.HasSuffix(file, ".toml"):
		err = toml.Unmarshal(data, &lf)
	default:
		err = yaml.Unmarshal(data, &lf)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse links config %s", file)
	}

	return lf.Links, nil
}

func (c Config) validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if !isValidServerName(c.ServerName) {
		return errors.Errorf("invalid server name: %s", c.ServerName)
	}

	seen := map[string]struct{}{}
	for _, l := range c.Links {
		key := canonicalizeServer(l.Name)
		if _, ok := seen[key]; ok {
			return errors.Errorf("link defined twice: %s", l.Name)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// linkByName finds the link definition for a server.
func (c Config) linkByName(name string) (LinkConfig, bool) {
	for _, l := range c.Links {
		if canonicalizeServer(l.Name) == canonicalizeServer(name) {
			return l, true
		}
	}
	return LinkConfig{}, false
}

// configFromArgs builds the configuration from the command line and the
// config file it names.
func configFromArgs(a Args) (Config, error) {
	c := defaultConfig(a.ServerName, a.ListenAddr)

	if a.ConfigFile != "" {
		if err := c.readConfigFile(a.ConfigFile); err != nil {
			return Config{}, err
		}
	}

	c.ConnectTo = a.Links
	if a.MetricsListen != "" {
		c.MetricsListen = a.MetricsListen
	}

	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
