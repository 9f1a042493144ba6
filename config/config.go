// Copyright 2017 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the client configuration. A Config decides which
// cluster a connection talks to and how patiently it retries; two configs
// with the same Fingerprint share one connection.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dgryski/go-farm"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Config contains every option of the client core.
type Config struct {
	Log          Log          `toml:"log" json:"log"`
	Security     Security     `toml:"security" json:"security"`
	Client       Client       `toml:"client" json:"client"`
	RPC          RPC          `toml:"rpc" json:"rpc"`
	Coordination Coordination `toml:"coordination" json:"coordination"`
}

// Log is the log section of config.
type Log struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	File   string `toml:"file" json:"file"`
}

// Security is the security section of the config.
type Security struct {
	ClusterSSLCA   string `toml:"cluster-ssl-ca" json:"cluster-ssl-ca"`
	ClusterSSLCert string `toml:"cluster-ssl-cert" json:"cluster-ssl-cert"`
	ClusterSSLKey  string `toml:"cluster-ssl-key" json:"cluster-ssl-key"`
}

// ToTLSConfig generates tls's config based on security section of the config.
func (s *Security) ToTLSConfig() (*tls.Config, error) {
	if len(s.ClusterSSLCA) == 0 {
		return nil, nil
	}
	certPool := x509.NewCertPool()
	ca, err := ioutil.ReadFile(s.ClusterSSLCA)
	if err != nil {
		return nil, errors.Errorf("could not read ca certificate: %s", err)
	}
	if !certPool.AppendCertsFromPEM(ca) {
		return nil, errors.New("failed to append ca certs")
	}
	tlsConfig := &tls.Config{RootCAs: certPool}
	if len(s.ClusterSSLCert) != 0 && len(s.ClusterSSLKey) != 0 {
		cert, err := tls.LoadX509KeyPair(s.ClusterSSLCert, s.ClusterSSLKey)
		if err != nil {
			return nil, errors.Errorf("could not load client key pair: %s", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// Client is the retry/locate section of the config.
type Client struct {
	// RetriesNumber bounds locator tries, master discovery and batch rounds.
	RetriesNumber int `toml:"retries-number" json:"retries-number"`
	// Pause is the base backoff pause in milliseconds.
	Pause uint64 `toml:"pause" json:"pause"`
	// RPCRetryTimeout is the wall-clock deadline in milliseconds for one
	// single-row retry loop. Zero means no deadline.
	RPCRetryTimeout uint64 `toml:"rpc-retry-timeout" json:"rpc-retry-timeout"`
	// PrefetchLimit is how many adjacent region descriptors one catalog
	// scan may pull into the cache.
	PrefetchLimit int `toml:"prefetch-limit" json:"prefetch-limit"`
	// MetaScannerCaching is the batch size for catalog scans.
	MetaScannerCaching int `toml:"meta-scanner-caching" json:"meta-scanner-caching"`
}

// RPC is the per-call transport section of the config.
type RPC struct {
	// Timeout is the per-RPC deadline in milliseconds.
	Timeout uint64 `toml:"timeout" json:"timeout"`
	// GrpcConnectionCount is the number of gRPC connections kept per server.
	GrpcConnectionCount uint `toml:"grpc-connection-count" json:"grpc-connection-count"`
	// GrpcKeepAliveTime is the keepalive probe interval in seconds.
	GrpcKeepAliveTime uint `toml:"grpc-keepalive-time" json:"grpc-keepalive-time"`
	// GrpcKeepAliveTimeout is the keepalive probe timeout in seconds.
	GrpcKeepAliveTimeout uint `toml:"grpc-keepalive-timeout" json:"grpc-keepalive-timeout"`
	// EnableOpenTracing attaches opentracing interceptors to every dial.
	EnableOpenTracing bool `toml:"enable-opentracing" json:"enable-opentracing"`
}

// Coordination is the quorum-service section of the config.
type Coordination struct {
	// Endpoints is the coordination quorum address list.
	Endpoints []string `toml:"endpoints" json:"endpoints"`
	// MaxReconnection caps transparent session re-creation after expiry.
	MaxReconnection int `toml:"max-reconnection" json:"max-reconnection"`
	// DialTimeout is the quorum dial timeout in seconds.
	DialTimeout uint `toml:"dial-timeout" json:"dial-timeout"`
}

var defaultConf = Config{
	Log: Log{
		Level:  "info",
		Format: "text",
	},
	Client: Client{
		RetriesNumber:      10,
		Pause:              200,
		RPCRetryTimeout:    0,
		PrefetchLimit:      10,
		MetaScannerCaching: 100,
	},
	RPC: RPC{
		Timeout:              60000,
		GrpcConnectionCount:  4,
		GrpcKeepAliveTime:    10,
		GrpcKeepAliveTimeout: 3,
	},
	Coordination: Coordination{
		MaxReconnection: 3,
		DialTimeout:     5,
	},
}

// NewConfig creates a new config instance with default value.
func NewConfig() *Config {
	conf := defaultConf
	return &conf
}

var globalConf atomic.Value

// GetGlobalConfig returns the global configuration for this process. Other
// parts of the client read settings through this function.
func GetGlobalConfig() *Config {
	return globalConf.Load().(*Config)
}

// StoreGlobalConfig stores a new config to the globalConf.
func StoreGlobalConfig(config *Config) {
	globalConf.Store(config)
}

// Load loads config options from a toml file.
func (c *Config) Load(confFile string) error {
	metaData, err := toml.DecodeFile(confFile, c)
	if err != nil {
		return errors.Trace(err)
	}
	if len(metaData.Undecoded()) > 0 {
		var undecoded []string
		for _, item := range metaData.Undecoded() {
			undecoded = append(undecoded, item.String())
		}
		return errors.Errorf("config file %s contained unknown configuration options: %s",
			confFile, strings.Join(undecoded, ", "))
	}
	return c.Valid()
}

// Valid checks whether the config is sane.
func (c *Config) Valid() error {
	if c.Client.RetriesNumber <= 0 {
		return errors.New("client retries-number should be positive")
	}
	if c.Client.PrefetchLimit < 0 {
		return errors.New("client prefetch-limit should not be negative")
	}
	if c.RPC.GrpcConnectionCount == 0 {
		return errors.New("rpc grpc-connection-count should be positive")
	}
	if c.Coordination.MaxReconnection < 0 {
		return errors.New("coordination max-reconnection should not be negative")
	}
	return nil
}

// Fingerprint hashes every setting that affects cluster identity, quorum
// address and timeouts. Connections are shared between configs with equal
// fingerprints.
func (c *Config) Fingerprint() uint64 {
	var b []byte
	for _, ep := range c.Coordination.Endpoints {
		b = append(b, ep...)
		b = append(b, 0)
	}
	b = append(b, c.Security.ClusterSSLCA...)
	b = append(b, 0)
	b = append(b, c.Security.ClusterSSLCert...)
	b = append(b, 0)
	var nums [8 * 7]byte
	binary.LittleEndian.PutUint64(nums[0:], uint64(c.Client.RetriesNumber))
	binary.LittleEndian.PutUint64(nums[8:], c.Client.Pause)
	binary.LittleEndian.PutUint64(nums[16:], c.Client.RPCRetryTimeout)
	binary.LittleEndian.PutUint64(nums[24:], uint64(c.Client.PrefetchLimit))
	binary.LittleEndian.PutUint64(nums[32:], c.RPC.Timeout)
	binary.LittleEndian.PutUint64(nums[40:], uint64(c.Coordination.MaxReconnection))
	binary.LittleEndian.PutUint64(nums[48:], uint64(c.Coordination.DialTimeout))
	b = append(b, nums[:]...)
	return farm.Fingerprint64(b)
}

func (c *Config) String() string {
	return fmt.Sprintf("endpoints=%v retries=%d pause=%dms rpc-timeout=%dms",
		c.Coordination.Endpoints, c.Client.RetriesNumber, c.Client.Pause, c.RPC.Timeout)
}

func init() {
	globalConf.Store(&defaultConf)
}
