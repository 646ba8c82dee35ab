// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/galera-go/replicator/internal/core/errs"
)

// CommitOrder names the ordering discipline the commit monitor enforces
// for locally-originated transactions.
type CommitOrder string

// The fixed enum of commit ordering modes.
const (
	CommitOrderOOC    CommitOrder = "OOC"
	CommitOrderLocal  CommitOrder = "LOCAL"
	CommitOrderBypass CommitOrder = "BYPASS"
)

func (c CommitOrder) valid() bool {
	switch c {
	case CommitOrderOOC, CommitOrderLocal, CommitOrderBypass:
		return true
	default:
		return false
	}
}

// Config binds the option surface of §6 to command-line flags, the same
// way internal/source/server.Config binds cdc.Config's flags.
type Config struct {
	BaseHost string `yaml:"base_host"`
	BasePort int    `yaml:"base_port"`

	ReplCommitOrder       string        `yaml:"repl_commit_order"`
	ReplCausalReadTimeout time.Duration `yaml:"repl_causal_read_timeout"`
	ReplProtoMax          int           `yaml:"repl_proto_max"`

	ISTRecvAddr  string `yaml:"ist_recv_addr"`
	ISTKeepKeys  int    `yaml:"ist_keep_keys"`
	ISTAuthHash  string `yaml:"ist_auth_hash"`

	// ConfigFile, when set, names a YAML file that LoadFile reads in
	// place of the bound flags entirely, so that not every deployment
	// needs every repl./ist. key on the command line.
	ConfigFile string `yaml:"-"`

	runtimeLocked bool
}

// LoadFile reads path as a YAML document into a fresh Config. It is
// used instead of Bind+flags when --config_file names a file, giving
// container deployments a single mounted file rather than a long flag
// list.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read config file")
	}
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "config: parse config file")
	}
	c.ConfigFile = path
	return c, nil
}

// Bind registers every flag this node accepts, mirroring
// internal/source/server.Config.Bind's structure.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.BaseHost, "base_host", "", "the address group communication listens on")
	flags.IntVar(&c.BasePort, "base_port", 4567, "the port group communication listens on")

	flags.StringVar(&c.ReplCommitOrder, "repl.commit_order", string(CommitOrderOOC),
		"commit ordering discipline: OOC, LOCAL, or BYPASS")
	flags.DurationVar(&c.ReplCausalReadTimeout, "repl.causal_read_timeout", 30*time.Second,
		"maximum wait for a causal read to catch up to the cluster")
	flags.IntVar(&c.ReplProtoMax, "repl.proto_max", 10,
		"highest transaction protocol version this node will negotiate")

	flags.StringVar(&c.ISTRecvAddr, "ist.recv_addr", "tcp://0.0.0.0:4568",
		"the (tcp|ssl)://host:port an incremental state transfer receiver listens on")
	flags.IntVar(&c.ISTKeepKeys, "ist.keep_keys", 0,
		"number of write-set keys to retain per cached entry for certification replay")
	flags.StringVar(&c.ISTAuthHash, "ist.auth_hash", "",
		"bcrypt hash of the shared state-transfer auth token; empty disables donor-side auth")

	flags.StringVar(&c.ConfigFile, "config_file", "", "optional YAML config file; when set, it replaces every other flag-bound setting")
}

// Preflight validates the bound flags, matching server.Config.Preflight's
// shape: a sequence of named checks, each returning a plain errors.New.
func (c *Config) Preflight() error {
	if c.BasePort <= 0 {
		return errors.New("base_port must be positive")
	}
	if !CommitOrder(c.ReplCommitOrder).valid() {
		return errors.Errorf("repl.commit_order must be one of OOC, LOCAL, BYPASS, got %q", c.ReplCommitOrder)
	}
	if c.ReplCausalReadTimeout <= 0 {
		return errors.New("repl.causal_read_timeout must be positive")
	}
	if c.ReplProtoMax <= 0 {
		return errors.New("repl.proto_max must be positive")
	}
	if c.ISTRecvAddr == "" {
		return errors.New("ist.recv_addr unset")
	}
	c.lock()
	return nil
}

// CommitOrder returns the validated commit-ordering mode.
func (c *Config) CommitOrder() CommitOrder {
	return CommitOrder(c.ReplCommitOrder)
}

// SetRuntime would adjust repl.commit_order after startup; per §6 this
// is explicitly rejected; the mode is fixed for the life of the
// process once Preflight has run.
func (c *Config) SetRuntime(order CommitOrder) error {
	if c.runtimeLocked {
		return errs.ErrNotAllowed
	}
	return errs.ErrNotAllowed
}

// lock is called once Preflight has succeeded, so any later SetRuntime
// call is rejected uniformly regardless of whether one has run before.
func (c *Config) lock() {
	c.runtimeLocked = true
}
