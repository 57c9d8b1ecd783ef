// Package appcred manages the keystone application credentials the hosted
// services authenticate with. Credentials are created once via the openstack
// CLI and persisted as JSON under the state directory; an existing file wins
// on re-run, which is what keeps container restarts idempotent.
package appcred

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"stackinit/internal/execx"
	"stackinit/internal/logx"
)

// Credential is one service's application credential.
type Credential struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// Manager creates and loads application credentials.
type Manager struct {
	runner  execx.Runner
	dir     string
	authURL string
	lookup  func(string) string
	log     *logx.Logger
}

// NewManager returns a Manager storing credentials under dir.
func NewManager(runner execx.Runner, dir, authURL string) *Manager {
	return &Manager{
		runner:  runner,
		dir:     dir,
		authURL: authURL,
		lookup:  os.Getenv,
		log:     logx.New("appcred"),
	}
}

// Path returns the credential file path for a service.
func (m *Manager) Path(service string) string {
	return filepath.Join(m.dir, service+"_app_cred.json")
}

// Load reads a previously persisted credential. A missing file returns an
// error satisfying os.IsNotExist.
func (m *Manager) Load(service string) (*Credential, error) {
	b, err := os.ReadFile(m.Path(service))
	if err != nil {
		return nil, err
	}
	var c Credential
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse credential %s: %w", m.Path(service), err)
	}
	return &c, nil
}

// EnsureAll makes sure the service project exists and every listed service
// has a user, the service role, and a persisted application credential.
// Services with an existing credential file are skipped.
func (m *Manager) EnsureAll(ctx context.Context, adminPassword string, services []string) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	env := m.adminEnv(adminPassword)

	// service project: show, create on miss
	if _, err := m.runner.Run(ctx, m.cli(env, "project", "show", "service")); err != nil {
		if _, err := m.runner.Run(ctx, m.cli(env,
			"project", "create", "--domain", "default",
			"--description", "Service Project", "service")); err != nil {
			return fmt.Errorf("create service project: %w", err)
		}
	}

	for _, svc := range services {
		if _, err := m.Load(svc); err == nil {
			m.log.Info("app_cred_exists", map[string]any{"service": svc})
			continue
		}
		if err := m.ensureOne(ctx, env, svc); err != nil {
			return fmt.Errorf("application credential for %s: %w", svc, err)
		}
	}
	return nil
}

func (m *Manager) ensureOne(ctx context.Context, env []string, svc string) error {
	if _, err := m.runner.Run(ctx, m.cli(env, "user", "show", svc)); err != nil {
		if _, err := m.runner.Run(ctx, m.cli(env,
			"user", "create", "--domain", "default", "--password", svc, svc)); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
	}

	// the role grant may already exist, which the CLI reports as an error
	if _, err := m.runner.Run(ctx, m.cli(env,
		"role", "add", "--project", "service", "--user", svc, "service")); err != nil {
		m.log.Warn("role_add_skipped", map[string]any{"service": svc, "reason": err.Error()})
	}

	name := fmt.Sprintf("%s-%s", svc, hexID(8))
	secret := m.lookup(strings.ToUpper(svc) + "_APP_CRED_SECRET")
	if secret == "" {
		secret = hexID(32)
	}

	out, err := m.runner.Run(ctx, m.cli(env,
		"application", "credential", "create",
		"--user", svc, "--secret", secret, name, "-f", "json"))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		return fmt.Errorf("parse create output: %w", err)
	}

	cred := Credential{ID: created.ID, Name: name, Secret: secret}
	b, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.Path(svc), b, 0o600); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}

	m.log.Info("app_cred_created", map[string]any{"service": svc, "name": name})
	return nil
}

func (m *Manager) cli(env []string, args ...string) execx.Command {
	return execx.Command{Name: "openstack", Args: args, Env: env}
}

func (m *Manager) adminEnv(adminPassword string) []string {
	return []string{
		"OS_AUTH_URL=" + m.authURL,
		"OS_USERNAME=admin",
		"OS_PASSWORD=" + adminPassword,
		"OS_PROJECT_NAME=admin",
		"OS_USER_DOMAIN_NAME=Default",
		"OS_PROJECT_DOMAIN_NAME=Default",
		"OS_IDENTITY_API_VERSION=3",
	}
}

// hexID returns n hex characters of a random UUID.
func hexID(n int) string {
	h := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}
