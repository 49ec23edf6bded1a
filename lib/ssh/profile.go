// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// AlgorithmProfile is a named, YAML-loadable algorithm preference set:
// an operator-facing alternative to constructing a Config literal,
// for deployments that want to pin their cipher/MAC/kex choices in a
// config file rather than in Go source.
type AlgorithmProfile struct {
	Name          string   `yaml:"name"`
	KeyExchanges  []string `yaml:"key_exchanges"`
	Ciphers       []string `yaml:"ciphers"`
	MACs          []string `yaml:"macs"`
	RekeyMegabyte uint64   `yaml:"rekey_megabyte"`
}

// ParseAlgorithmProfile decodes one YAML-encoded AlgorithmProfile.
func ParseAlgorithmProfile(data []byte) (*AlgorithmProfile, error) {
	p := &AlgorithmProfile{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("ssh: parse algorithm profile: %w", err)
	}
	return p, nil
}

// Apply copies the profile's non-empty fields onto c, validating each
// named algorithm against the set this package actually implements.
func (p *AlgorithmProfile) Apply(c *Config) error {
	if len(p.KeyExchanges) > 0 {
		for _, name := range p.KeyExchanges {
			if !contains(defaultKexAlgos, name) {
				return fmt.Errorf("ssh: profile %q names unsupported key exchange %q", p.Name, name)
			}
		}
		c.KeyExchanges = p.KeyExchanges
	}
	if len(p.Ciphers) > 0 {
		for _, name := range p.Ciphers {
			if _, ok := cipherModes[name]; !ok {
				return fmt.Errorf("ssh: profile %q names unsupported cipher %q", p.Name, name)
			}
		}
		c.Ciphers = p.Ciphers
	}
	if len(p.MACs) > 0 {
		for _, name := range p.MACs {
			if !contains(supportedMACs, name) {
				return fmt.Errorf("ssh: profile %q names unsupported MAC %q", p.Name, name)
			}
		}
		c.MACs = p.MACs
	}
	if p.RekeyMegabyte > 0 {
		c.RekeyThreshold = p.RekeyMegabyte << 20
	}
	return nil
}

func contains(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}
