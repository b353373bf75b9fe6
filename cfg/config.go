// Package cfg holds the arbiter's process-wide configuration: the toml file
// format, flag overrides, and defaults. Mirrors the single global Config
// pattern used throughout the rest of the tree.
package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// MailboxConfiguration controls the NATS-backed mailbox transport.
type MailboxConfiguration struct {
	NATSUrls       []string `toml:"nats_urls"`
	ConnectTimeout int      `toml:"connect_timeout_ms"`
	ReconnectWait  int      `toml:"reconnect_wait_ms"`
	MaxReconnects  int      `toml:"max_reconnects"`
}

// MeshAideConfiguration controls the etcd-backed peer-info oracle.
type MeshAideConfiguration struct {
	EtcdEndpoints  []string `toml:"etcd_endpoints"`
	DialTimeoutMS  int      `toml:"dial_timeout_ms"`
	RequestTimeout int      `toml:"request_timeout_ms"`
	KeyPrefix      string   `toml:"key_prefix"`
	CacheFile      string   `toml:"cache_file"` // local fallback cache when etcd is unreachable
}

// ArbiterConfiguration controls the protocol's own timing constants.
type ArbiterConfiguration struct {
	ReceiveTickMS  int `toml:"receive_tick_ms"`  // recvBlocking poll granularity (spec: 5ms)
	StallAfterMS   int `toml:"stall_after_ms"`   // when to start logging missing pairs (spec: 10s)
	StallEveryMS   int `toml:"stall_every_ms"`   // repeat interval for stall logging (spec: 60s)
	DedupCacheSize int `toml:"dedup_cache_size"` // bounded LRU of recently seen wire message digests
}

// MeshConfiguration lists the full mesh membership this site arbitrates
// over. Membership changes require a restart; the arbiter never discovers
// peers on its own.
type MeshConfiguration struct {
	PeerHsIds []uint64 `toml:"peer_hsids"` // every other site in the mesh, self excluded
}

// AdminConfiguration controls the admin HTTP surface.
type AdminConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Secret      string `toml:"secret"` // empty disables auth
}

// LoggingConfiguration controls logging behavior.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration controls metrics exposition.
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

// Configuration is the arbiter process's main configuration structure.
type Configuration struct {
	HsId uint64 `toml:"hsid"`

	Mesh       MeshConfiguration       `toml:"mesh"`
	Mailbox    MailboxConfiguration    `toml:"mailbox"`
	MeshAide   MeshAideConfiguration   `toml:"mesh_aide"`
	Arbiter    ArbiterConfiguration    `toml:"arbiter"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags.
var (
	ConfigPathFlag = flag.String("config", "arbiter.toml", "Path to configuration file")
	HsIdFlag       = flag.Uint64("hsid", 0, "Site identifier (overrides config, 0=auto)")
	AdminAddrFlag  = flag.String("admin-addr", "", "Admin HTTP bind address (overrides config)")
)

// Config is the process-wide configuration instance, populated by Load.
var Config = &Configuration{
	HsId: 0, // auto-generate

	Mailbox: MailboxConfiguration{
		NATSUrls:       []string{"nats://127.0.0.1:4222"},
		ConnectTimeout: 5000,
		ReconnectWait:  2000,
		MaxReconnects:  -1,
	},

	MeshAide: MeshAideConfiguration{
		EtcdEndpoints:  []string{"127.0.0.1:2379"},
		DialTimeoutMS:  5000,
		RequestTimeout: 2000,
		KeyPrefix:      "/mesharbiter/safe-txn/",
		CacheFile:      "./mesharbiter-aide-cache.msgpack",
	},

	Arbiter: ArbiterConfiguration{
		ReceiveTickMS:  5,
		StallAfterMS:   10_000,
		StallEveryMS:   60_000,
		DedupCacheSize: 4096,
	},

	Admin: AdminConfiguration{
		BindAddress: "0.0.0.0:8199",
		Secret:      "",
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Address: "0.0.0.0:9199",
	},
}

// Load loads configuration from file and applies CLI overrides.
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *HsIdFlag != 0 {
		Config.HsId = *HsIdFlag
	}
	if *AdminAddrFlag != "" {
		Config.Admin.BindAddress = *AdminAddrFlag
	}

	if Config.HsId == 0 {
		var err error
		Config.HsId, err = generateHsId()
		if err != nil {
			return fmt.Errorf("failed to generate hsid: %w", err)
		}
		log.Info().Uint64("hsid", Config.HsId).Msg("Auto-generated site identifier")
	}

	return nil
}

// generateHsId derives a site identifier from the machine identity, so a
// restarted process on the same host keeps the same hsid without a config file.
func generateHsId() (uint64, error) {
	id, err := machineid.ProtectedID("mesharbiter")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors.
func Validate() error {
	if len(Config.Mailbox.NATSUrls) == 0 {
		return fmt.Errorf("at least one NATS URL is required")
	}
	if len(Config.MeshAide.EtcdEndpoints) == 0 {
		return fmt.Errorf("at least one etcd endpoint is required")
	}
	if Config.Arbiter.ReceiveTickMS < 1 {
		return fmt.Errorf("arbiter receive tick must be >= 1ms")
	}
	if Config.Arbiter.StallAfterMS < 1 {
		return fmt.Errorf("arbiter stall-after threshold must be >= 1ms")
	}
	if Config.Arbiter.StallEveryMS < 1 {
		return fmt.Errorf("arbiter stall-every interval must be >= 1ms")
	}
	if Config.Arbiter.DedupCacheSize < 1 {
		return fmt.Errorf("arbiter dedup cache size must be >= 1")
	}
	return nil
}

// HsIdSet returns the full mesh membership (self plus every configured
// peer) as the set type the arbiter driver expects.
func HsIdSet() map[uint64]struct{} {
	set := make(map[uint64]struct{}, len(Config.Mesh.PeerHsIds)+1)
	set[Config.HsId] = struct{}{}
	for _, hsid := range Config.Mesh.PeerHsIds {
		set[hsid] = struct{}{}
	}
	return set
}

// IsAdminAuthEnabled reports whether the admin HTTP surface requires a secret.
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}

// GetAdminSecret returns the configured admin secret.
func GetAdminSecret() string {
	return Config.Admin.Secret
}
