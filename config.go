package mohnet

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

var ErrConfig = errors.New("invalid config")

// config bounds and defaults
const (
	MinMaxPackets     = 15
	MaxMaxPackets     = 125
	DefaultMaxPackets = 30

	DefaultMaxPacketsPerTick = 16
	DefaultTimeout           = 30 * time.Second
	DefaultErrorDecay        = 100 * time.Millisecond
	DefaultPmoveMsec         = 8
)

// Config is the user supplied part of a connection, it outlives
// disconnects
type Config struct {
	Address  string
	Protocol int
	Qport    uint16

	MaxPackets        int
	MaxPacketsPerTick int
	Timeout           time.Duration
	TimeNudge         int

	PmoveFixed bool
	PmoveMsec  int
	NoPredict  bool
	ErrorDecay time.Duration

	CDKey    string
	UserInfo map[string]string

	Storage string
	Capture string

	Log LogConfig

	raw map[interface{}]interface{}
}

type LogConfig struct {
	Dir    string
	Level  string
	Pretty bool
}

// DefaultConfig returns a config with every default applied
func DefaultConfig() *Config {
	return &Config{
		MaxPackets:        DefaultMaxPackets,
		MaxPacketsPerTick: DefaultMaxPacketsPerTick,
		Timeout:           DefaultTimeout,
		PmoveMsec:         DefaultPmoveMsec,
		ErrorDecay:        DefaultErrorDecay,
		UserInfo:          map[string]string{},
		Log:               LogConfig{Level: "info"},
		raw:               map[interface{}]interface{}{},
	}
}

// LoadConfig loads the configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig parses yaml config data
func ParseConfig(data []byte) (*Config, error) {
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, &c.raw); err != nil {
		return nil, err
	}
	if c.raw == nil {
		c.raw = map[interface{}]interface{}{}
	}

	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Key returns a key in the configuration, nested keys are separated
// by colons
func (c *Config) Key(key string) interface{} {
	keys := strings.Split(key, ":")
	m := c.raw
	for i := 0; i < len(keys)-1; i++ {
		sub, ok := m[keys[i]].(map[interface{}]interface{})
		if !ok {
			return nil
		}
		m = sub
	}

	return m[keys[len(keys)-1]]
}

func (c *Config) load() error {
	var err error
	str := func(key string, dst *string) {
		switch v := c.Key(key).(type) {
		case nil:
		case string:
			*dst = v
		default:
			err = fmt.Errorf("%w: %s is not a string", ErrConfig, key)
		}
	}
	num := func(key string, dst *int) {
		switch v := c.Key(key).(type) {
		case nil:
		case int:
			*dst = v
		default:
			err = fmt.Errorf("%w: %s is not an integer", ErrConfig, key)
		}
	}
	flag := func(key string, dst *bool) {
		switch v := c.Key(key).(type) {
		case nil:
		case bool:
			*dst = v
		default:
			err = fmt.Errorf("%w: %s is not a boolean", ErrConfig, key)
		}
	}
	dur := func(key string, unit time.Duration, dst *time.Duration) {
		switch v := c.Key(key).(type) {
		case nil:
		case int:
			*dst = time.Duration(v) * unit
		case string:
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = fmt.Errorf("%w: %s: %v", ErrConfig, key, perr)
				return
			}
			*dst = d
		default:
			err = fmt.Errorf("%w: %s is not a duration", ErrConfig, key)
		}
	}

	str("address", &c.Address)
	num("protocol", &c.Protocol)
	qport := int(c.Qport)
	num("qport", &qport)
	num("max_packets", &c.MaxPackets)
	num("max_packets_per_tick", &c.MaxPacketsPerTick)
	dur("timeout", time.Second, &c.Timeout)
	num("time_nudge", &c.TimeNudge)
	flag("pmove_fixed", &c.PmoveFixed)
	num("pmove_msec", &c.PmoveMsec)
	flag("no_predict", &c.NoPredict)
	dur("error_decay", time.Millisecond, &c.ErrorDecay)
	str("cdkey", &c.CDKey)
	str("storage", &c.Storage)
	str("capture", &c.Capture)
	str("log:dir", &c.Log.Dir)
	str("log:level", &c.Log.Level)
	flag("log:pretty", &c.Log.Pretty)
	if err != nil {
		return err
	}

	if qport < 0 || qport > 0xffff {
		return fmt.Errorf("%w: qport %d out of range", ErrConfig, qport)
	}
	c.Qport = uint16(qport)

	if c.Protocol != 0 {
		if _, err := FamilyOf(c.Protocol); err != nil {
			return err
		}
	}

	switch ui := c.Key("userinfo").(type) {
	case nil:
	case map[interface{}]interface{}:
		for k, v := range ui {
			c.UserInfo[fmt.Sprint(k)] = fmt.Sprint(v)
		}
	default:
		return fmt.Errorf("%w: userinfo is not a map", ErrConfig)
	}

	c.clamp()
	return nil
}

func (c *Config) clamp() {
	c.MaxPackets = clampInt(c.MaxPackets, MinMaxPackets, MaxMaxPackets)
	c.PmoveMsec = clampInt(c.PmoveMsec, 8, 33)
	c.TimeNudge = clampInt(c.TimeNudge, -30, 30)
	if c.MaxPacketsPerTick <= 0 {
		c.MaxPacketsPerTick = DefaultMaxPacketsPerTick
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

func clampInt(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
