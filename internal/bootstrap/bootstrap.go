// Package bootstrap performs the one-time container setup: directories,
// keystone keys, config rendering, database wiring and schema syncs, and the
// keystone bootstrap itself. Every step is idempotent so restarting the
// container against an already initialized volume is safe.
package bootstrap

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"stackinit/internal/appcred"
	"stackinit/internal/catalog"
	"stackinit/internal/config"
	"stackinit/internal/database"
	"stackinit/internal/execx"
	"stackinit/internal/logx"
)

// Bootstrapper runs the setup sequence.
type Bootstrapper struct {
	cfg     *config.AppConfig
	runner  execx.Runner
	creds   *appcred.Manager
	environ func() []string
	lookup  func(string) string
	log     *logx.Logger
}

// Result is what the entrypoint needs after bootstrap: the processes to
// supervise and an open keystone database handle for health checks (nil when
// the sqlite fallback is in use).
type Result struct {
	Programs []catalog.Process
	HealthDB *sql.DB
	Configs  map[string]string
}

// New returns a Bootstrapper using the real process environment.
func New(cfg *config.AppConfig, runner execx.Runner, creds *appcred.Manager) *Bootstrapper {
	return &Bootstrapper{
		cfg:     cfg,
		runner:  runner,
		creds:   creds,
		environ: os.Environ,
		lookup:  os.Getenv,
		log:     logx.New("bootstrap"),
	}
}

// Run executes the full bootstrap sequence.
func (b *Bootstrapper) Run(ctx context.Context) (*Result, error) {
	if err := b.PrepareDirectories(); err != nil {
		return nil, err
	}
	if err := b.EnsureFernetKeys(ctx); err != nil {
		return nil, err
	}

	choices, healthDB, err := b.waitDatabases(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{HealthDB: healthDB, Configs: map[string]string{}}

	if err := b.ConfigureKeystone(ctx, choices["keystone"], res); err != nil {
		b.closeDB(healthDB)
		return nil, err
	}
	for _, name := range []string{"glance", "cinder", "neutron", "ironic"} {
		if err := b.ConfigureService(ctx, name, choices[name], res); err != nil {
			b.closeDB(healthDB)
			return nil, err
		}
	}
	if err := b.ConfigureNova(ctx, choices["nova"], res); err != nil {
		b.closeDB(healthDB)
		return nil, err
	}
	if err := b.ConfigureHorizon(ctx); err != nil {
		b.closeDB(healthDB)
		return nil, err
	}

	frontend, err := b.FrontendProgram()
	if err != nil {
		b.closeDB(healthDB)
		return nil, err
	}
	res.Programs = append(res.Programs, frontend)
	for _, svc := range catalog.Services(b.cfg.Paths) {
		res.Programs = append(res.Programs, svc.Processes...)
	}

	b.log.Info("bootstrap_complete", map[string]any{"programs": len(res.Programs)})
	return res, nil
}

func (b *Bootstrapper) closeDB(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}

// PrepareDirectories creates the state dir and every service data/log dir.
// The glance image dir gets tighter permissions.
func (b *Bootstrapper) PrepareDirectories() error {
	dirs := []string{b.cfg.Paths.State, filepath.Join(b.cfg.Paths.State, "app_credentials")}
	for _, svc := range catalog.Services(b.cfg.Paths) {
		dirs = append(dirs, svc.ConfigDir)
		dirs = append(dirs, svc.DataDirs...)
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	imageDir := filepath.Join(b.cfg.Paths.Lib, "glance", "images")
	if err := os.Chmod(imageDir, 0o750); err != nil {
		return fmt.Errorf("chmod image dir: %w", err)
	}

	b.log.Info("directories_prepared", map[string]any{"count": len(dirs)})
	return nil
}

// EnsureFernetKeys initializes keystone's fernet and credential key
// repositories. Existing key 0 means the repository is already set up. When
// keystone-manage fails (fresh minimal images without a usable config yet), a
// random key of the right shape is written so keystone can still start.
func (b *Bootstrapper) EnsureFernetKeys(ctx context.Context) error {
	keystoneEtc := filepath.Join(b.cfg.Paths.Etc, "keystone")
	repos := []struct {
		dir   string
		setup string
	}{
		{filepath.Join(keystoneEtc, "fernet-keys"), "fernet_setup"},
		{filepath.Join(keystoneEtc, "credential-keys"), "credential_setup"},
	}

	for _, repo := range repos {
		if err := os.MkdirAll(repo.dir, 0o755); err != nil {
			return fmt.Errorf("create key dir: %w", err)
		}
		keyZero := filepath.Join(repo.dir, "0")
		if _, err := os.Stat(keyZero); err == nil {
			b.log.Info("key_repo_exists", map[string]any{"dir": repo.dir})
			continue
		}

		_, err := b.runner.Run(ctx, execx.Command{
			Name: "keystone-manage",
			Args: []string{repo.setup, "--keystone-user", "root", "--keystone-group", "root"},
		})
		if err != nil {
			b.log.Warn("key_setup_fallback", map[string]any{"setup": repo.setup, "reason": err.Error()})
			if werr := os.WriteFile(keyZero, []byte(randomFernetKey()), 0o600); werr != nil {
				return fmt.Errorf("write fallback key: %w", werr)
			}
		}
	}

	// keys must never be group/world readable
	for _, repo := range repos {
		err := filepath.WalkDir(repo.dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			return os.Chmod(path, 0o600)
		})
		if err != nil {
			return fmt.Errorf("restrict key permissions: %w", err)
		}
	}
	return nil
}

// waitDatabases selects a connection per service and waits for every distinct
// postgres server before schema syncs run. Keystone's handle is kept open for
// the health endpoint.
func (b *Bootstrapper) waitDatabases(ctx context.Context) (map[string]database.Choice, *sql.DB, error) {
	choices := map[string]database.Choice{}
	for _, svc := range catalog.Services(b.cfg.Paths) {
		if svc.BaseConfig == "" {
			continue
		}
		choices[svc.Name] = database.SelectConnection(svc.Name, b.cfg.Paths.State, b.cfg.DefaultDBType, b.lookup)
	}

	var healthDB *sql.DB
	waited := map[string]bool{}
	timeout := secondsOrDefault(b.cfg.DBWaitSec, 120)

	for _, svc := range catalog.Services(b.cfg.Paths) {
		choice, ok := choices[svc.Name]
		if !ok || !choice.Postgres {
			continue
		}
		if waited[choice.DSN] {
			continue
		}
		b.log.Info("waiting_for_database", map[string]any{"service": svc.Name, "host": choice.Config.Host})
		db, err := database.WaitReady(ctx, choice.Config, timeout)
		if err != nil {
			b.closeDB(healthDB)
			return nil, nil, err
		}
		waited[choice.DSN] = true
		if svc.Name == "keystone" {
			healthDB = db
		} else {
			_ = db.Close()
		}
	}
	return choices, healthDB, nil
}

func randomFernetKey() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.URLEncoding.EncodeToString(buf)
}

func secondsOrDefault(s, def int) time.Duration {
	if s <= 0 {
		s = def
	}
	return time.Duration(s) * time.Second
}
