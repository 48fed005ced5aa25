package docker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ContainerSpec describes the game server container to provision.
type ContainerSpec struct {
	Name        string            `yaml:"name" toml:"name" json:"name"`
	Image       string            `yaml:"image" toml:"image" json:"image"`
	Env         map[string]string `yaml:"env" toml:"env" json:"env"`
	Ports       []PortMapping     `yaml:"-" toml:"-" json:"ports"`
	Volumes     map[string]string `yaml:"volumes" toml:"volumes" json:"volumes"`
	MemoryLimit int64             `yaml:"-" toml:"-" json:"memory_limit"`
	CPULimit    float64           `yaml:"cpu" toml:"cpu" json:"cpu"`
}

// EnvList renders Env as sorted KEY=value pairs.
func (s ContainerSpec) EnvList() []string {
	env := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

type PortMapping struct {
	Host      string `json:"host"`
	Container string `json:"container"`
	Protocol  string `json:"protocol"`
}

func (p PortMapping) protocol() string {
	if p.Protocol == "" {
		return "tcp"
	}
	return p.Protocol
}

func (p PortMapping) String() string {
	return p.Host + ":" + p.Container + "/" + p.protocol()
}

// DefaultSpec returns the stock image and ports for a supported game.
func DefaultSpec(game string) (ContainerSpec, bool) {
	switch game {
	case "minecraft":
		return ContainerSpec{
			Name:  "reedlink-minecraft",
			Image: "itzg/minecraft-server:latest",
			Env:   map[string]string{"EULA": "TRUE", "ENABLE_RCON": "true"},
			Ports: []PortMapping{{Host: "25565", Container: "25565", Protocol: "tcp"}},
		}, true
	case "vintagestory":
		return ContainerSpec{
			Name:  "reedlink-vintagestory",
			Image: "devidian/vintagestory:latest",
			Ports: []PortMapping{{Host: "42420", Container: "42420", Protocol: "tcp"}},
		}, true
	}
	return ContainerSpec{}, false
}

// ParsePortMappings parses "host:container[/proto]" entries.
func ParsePortMappings(ports []string) ([]PortMapping, error) {
	result := make([]PortMapping, 0, len(ports))
	for _, p := range ports {
		spec, proto, _ := strings.Cut(p, "/")
		if proto == "" {
			proto = "tcp"
		}
		host, ctr, ok := strings.Cut(spec, ":")
		if !ok || host == "" || ctr == "" {
			return nil, fmt.Errorf("port %q: want host:container[/proto]", p)
		}
		if _, err := strconv.ParseUint(ctr, 10, 16); err != nil {
			return nil, fmt.Errorf("port %q: bad container port", p)
		}
		if proto != "tcp" && proto != "udp" {
			return nil, fmt.Errorf("port %q: unknown protocol %s", p, proto)
		}
		result = append(result, PortMapping{Host: host, Container: ctr, Protocol: proto})
	}
	return result, nil
}

// ParseMemory parses a size like "2G", "512M" or a plain byte count.
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" {
		return 0, nil
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
		s = s[:len(s)-1]
	}
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("memory %q: not a size", s)
	}
	return val * multiplier, nil
}
