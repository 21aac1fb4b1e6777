package endpoint

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is one service's published configuration. Two layouts exist in the
// wild: the generic form (backends as comma-joined groups) and the cache
// form (explicit master/l1/slave lists). Both deserialize into this struct;
// Groups() resolves whichever was used.
type Config struct {
	// Generic layout: each entry is one layer group, addresses comma-joined.
	// The first group is the master.
	Backends []string `yaml:"backends"`

	// Cache layout.
	Master   []string   `yaml:"master"`
	MasterL1 [][]string `yaml:"master_l1"`
	Slave    []string   `yaml:"slave"`
	SlaveL1  [][]string `yaml:"slave_l1"`

	Basic Basic `yaml:"basic"`

	// Queue layout: per-queue payload size caps, aligned with Backends.
	QueueSizes []int `yaml:"queue_sizes"`
}

// Basic is the per-service routing block.
type Basic struct {
	AccessMod       string `yaml:"access_mod"`
	Distribution    string `yaml:"distribution"`
	Hash            string `yaml:"hash"`
	HashTag         bool   `yaml:"hash_tag"`
	Listen          string `yaml:"listen"`
	ResourceType    string `yaml:"resource_type"`
	TimeoutMsMaster int    `yaml:"timeout_ms_master"`
	TimeoutMsSlave  int    `yaml:"timeout_ms_slave"`

	Username string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"db"`

	// KeyColumn names the routing column for sql services.
	KeyColumn string `yaml:"key_column"`
}

// ParseConfig deserializes a published service config.
func ParseConfig(body []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(body, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse service config: %w", err)
	}
	if cfg.Basic.TimeoutMsMaster <= 0 {
		cfg.Basic.TimeoutMsMaster = 500
	}
	if cfg.Basic.TimeoutMsSlave <= 0 {
		cfg.Basic.TimeoutMsSlave = 500
	}
	return cfg, nil
}

// Group is one layer of backend addresses.
type Group struct {
	Role  Role
	Addrs []string
}

// Role tags a group's tier in the read/write hierarchy.
type Role uint8

const (
	RoleMaster Role = iota
	RoleMasterL1
	RoleSlave
	RoleSlaveL1
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleMasterL1:
		return "master-l1"
	case RoleSlave:
		return "slave"
	case RoleSlaveL1:
		return "slave-l1"
	}
	return "unknown"
}

// Groups resolves the configured layout into ordered layer groups, master
// first.
func (c *Config) Groups() ([]Group, error) {
	if len(c.Master) > 0 {
		groups := []Group{{Role: RoleMaster, Addrs: c.Master}}
		for _, l1 := range c.MasterL1 {
			groups = append(groups, Group{Role: RoleMasterL1, Addrs: l1})
		}
		if len(c.Slave) > 0 {
			groups = append(groups, Group{Role: RoleSlave, Addrs: c.Slave})
		}
		for _, l1 := range c.SlaveL1 {
			groups = append(groups, Group{Role: RoleSlaveL1, Addrs: l1})
		}
		return groups, nil
	}

	if len(c.Backends) == 0 {
		return nil, fmt.Errorf("service config has no backends")
	}
	groups := make([]Group, 0, len(c.Backends))
	for i, joined := range c.Backends {
		addrs := strings.Split(joined, ",")
		for j := range addrs {
			addrs[j] = strings.TrimSpace(addrs[j])
		}
		role := RoleMaster
		if i > 0 {
			role = RoleSlave
		}
		groups = append(groups, Group{Role: role, Addrs: addrs})
	}
	return groups, nil
}

// CanRead and CanWrite interpret access_mod; the empty value allows both.
func (c *Config) CanRead() bool {
	return c.Basic.AccessMod == "" || strings.Contains(c.Basic.AccessMod, "r")
}

func (c *Config) CanWrite() bool {
	return c.Basic.AccessMod == "" || strings.Contains(c.Basic.AccessMod, "w")
}
