package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/stately-io/stately/internal/coordinator"
	"github.com/stately-io/stately/internal/lock"
	"github.com/stately-io/stately/internal/store"
)

// DefaultFileName is the settings file looked up in the working directory.
const DefaultFileName = "stately.json"

// Settings is the top-level configuration for the stately CLI and the
// coordination service it drives.
type Settings struct {
	Backend       *BackendConfig `json:"backend"`
	Holder        string         `json:"holder,omitempty"`
	LockTTL       string         `json:"lock_ttl,omitempty"`       // e.g. "10m"
	SweepInterval string         `json:"sweep_interval,omitempty"` // e.g. "1m"
	KeepVersions  int            `json:"keep_versions,omitempty"`  // 0 = keep forever
	LogLevel      string         `json:"log_level,omitempty"`
}

// BackendConfig selects where state documents and lock entries live.
type BackendConfig struct {
	Type   string            `json:"type"` // "local", "s3", "mem"
	Config map[string]string `json:"config,omitempty"`
}

// Load reads settings from path, or returns defaults when the file does not
// exist.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultFileName
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	s := Defaults()
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	if s.Backend == nil {
		s.Backend = Defaults().Backend
	}
	return s, nil
}

// Defaults returns the settings used when no file is present: a local bolt
// backend under .stately/.
func Defaults() *Settings {
	return &Settings{
		Backend: &BackendConfig{
			Type: "local",
			Config: map[string]string{
				"path": filepath.Join(".stately", "stately.db"),
			},
		},
		LockTTL:       coordinator.DefaultLockTTL.String(),
		SweepInterval: lock.DefaultSweepInterval.String(),
		KeepVersions:  20,
	}
}

// TTL parses the configured lock TTL.
func (s *Settings) TTL() (time.Duration, error) {
	if s.LockTTL == "" {
		return coordinator.DefaultLockTTL, nil
	}
	d, err := time.ParseDuration(s.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid lock_ttl %q: %w", s.LockTTL, err)
	}
	return d, nil
}

// Sweep parses the configured sweep interval.
func (s *Settings) Sweep() (time.Duration, error) {
	if s.SweepInterval == "" {
		return lock.DefaultSweepInterval, nil
	}
	d, err := time.ParseDuration(s.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid sweep_interval %q: %w", s.SweepInterval, err)
	}
	return d, nil
}

// Backends holds the opened storage handles. Close releases whatever the
// backend type holds open.
type Backends struct {
	Store store.Store
	Locks lock.Manager

	closer func() error
}

func (b *Backends) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// Open wires the configured backend into a state store and a lock manager.
func Open(ctx context.Context, s *Settings) (*Backends, error) {
	if s.Backend == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	retention := store.RetentionPolicy{KeepLast: s.KeepVersions}
	cfg := s.Backend.Config

	switch s.Backend.Type {
	case "local", "":
		path := cfg["path"]
		if path == "" {
			path = filepath.Join(".stately", "stately.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
		}
		st, err := store.NewBolt(db, retention)
		if err != nil {
			db.Close()
			return nil, err
		}
		locks, err := lock.NewBolt(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &Backends{Store: st, Locks: locks, closer: db.Close}, nil

	case "s3":
		st, err := store.NewS3(ctx, store.S3Config{
			Bucket:       cfg["bucket"],
			Prefix:       cfg["prefix"],
			Region:       cfg["region"],
			Profile:      cfg["profile"],
			VersionTable: cfg["version_table"],
			Encrypt:      cfg["encrypt"] == "true",
		}, retention)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
		}
		locks, err := lock.NewDynamo(ctx, lock.DynamoConfig{
			Table:   cfg["lock_table"],
			Region:  cfg["region"],
			Profile: cfg["profile"],
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize DynamoDB lock manager: %w", err)
		}
		return &Backends{Store: st, Locks: locks}, nil

	case "mem":
		return &Backends{Store: store.NewMem(retention), Locks: lock.NewMem()}, nil

	default:
		return nil, fmt.Errorf("unknown backend type: %s", s.Backend.Type)
	}
}
