package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"stackinit/internal/appcred"
	"stackinit/internal/config"
	"stackinit/internal/database"
	"stackinit/internal/execx"
	execMocks "stackinit/internal/execx/mocks"
	"stackinit/internal/inicfg"
)

func iniGet(t *testing.T, path, section, option string) string {
	t.Helper()
	return inicfg.Get(path, section, option)
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	root := t.TempDir()
	return &config.AppConfig{
		AdminPort: "8181",
		Paths: config.Paths{
			Etc:   filepath.Join(root, "etc"),
			Lib:   filepath.Join(root, "lib"),
			Log:   filepath.Join(root, "log"),
			State: filepath.Join(root, "state"),
		},
		ConfigSourceDir:       filepath.Join(root, "src"),
		DefaultDBType:         "sqlite",
		KeystoneAdminPassword: "admin",
		AuthURL:               "http://localhost:5000/v3",
	}
}

func newTestBootstrapper(t *testing.T, cfg *config.AppConfig, runner *execMocks.MockRunner) *Bootstrapper {
	t.Helper()
	creds := appcred.NewManager(runner, filepath.Join(cfg.Paths.State, "app_credentials"), cfg.AuthURL)
	b := New(cfg, runner, creds)
	b.environ = func() []string { return nil }
	b.lookup = func(string) string { return "" }
	return b
}

func writeCred(t *testing.T, cfg *config.AppConfig, service, id, secret string) {
	t.Helper()
	dir := filepath.Join(cfg.Paths.State, "app_credentials")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	b, _ := json.Marshal(appcred.Credential{ID: id, Name: service + "-x", Secret: secret})
	require.NoError(t, os.WriteFile(filepath.Join(dir, service+"_app_cred.json"), b, 0o600))
}

func anyCmd(name string) any {
	return mock.MatchedBy(func(c execx.Command) bool { return c.Name == name })
}

func TestPrepareDirectories(t *testing.T) {
	cfg := testConfig(t)
	b := newTestBootstrapper(t, cfg, new(execMocks.MockRunner))

	require.NoError(t, b.PrepareDirectories())

	for _, d := range []string{
		cfg.Paths.State,
		filepath.Join(cfg.Paths.Etc, "keystone", "fernet-keys"),
		filepath.Join(cfg.Paths.Lib, "nova", "instances"),
		filepath.Join(cfg.Paths.Log, "horizon"),
	} {
		info, err := os.Stat(d)
		require.NoError(t, err, d)
		assert.True(t, info.IsDir())
	}

	imageDir, err := os.Stat(filepath.Join(cfg.Paths.Lib, "glance", "images"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), imageDir.Mode().Perm())
}

func TestEnsureFernetKeysFallback(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	runner := new(execMocks.MockRunner)
	b := newTestBootstrapper(t, cfg, runner)

	// keystone-manage is unavailable in this image
	runner.On("Run", ctx, anyCmd("keystone-manage")).Return("", errors.New("exec: not found"))

	require.NoError(t, b.EnsureFernetKeys(ctx))

	for _, repo := range []string{"fernet-keys", "credential-keys"} {
		key := filepath.Join(cfg.Paths.Etc, "keystone", repo, "0")
		info, err := os.Stat(key)
		require.NoError(t, err, key)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		content, err := os.ReadFile(key)
		require.NoError(t, err)
		assert.Len(t, content, 44) // 32 random bytes, urlsafe base64
	}
	runner.AssertNumberOfCalls(t, "Run", 2)

	// existing keys short-circuit the setup commands
	require.NoError(t, b.EnsureFernetKeys(ctx))
	runner.AssertNumberOfCalls(t, "Run", 2)
}

func TestConfigureServiceRendersConfig(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	runner := new(execMocks.MockRunner)
	b := newTestBootstrapper(t, cfg, runner)
	b.environ = func() []string { return []string{"GLANCE_DEFAULT_WORKERS=4"} }

	require.NoError(t, os.MkdirAll(cfg.ConfigSourceDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.ConfigSourceDir, "glance-api.conf"),
		[]byte("[DEFAULT]\ndebug = false\n"), 0o644))

	writeCred(t, cfg, "glance", "cred-glance", "sekrit")

	runner.On("Run", ctx, anyCmd("glance-manage")).Return("", nil)

	choice := database.SelectConnection("glance", cfg.Paths.State, cfg.DefaultDBType, b.lookup)
	res := &Result{Configs: map[string]string{}}
	require.NoError(t, b.ConfigureService(ctx, "glance", choice, res))

	target := res.Configs["glance"]
	require.NotEmpty(t, target)

	assert.Equal(t, "false", iniGet(t, target, "DEFAULT", "debug"))
	assert.Equal(t, "4", iniGet(t, target, "default", "workers"))
	assert.Contains(t, iniGet(t, target, "database", "connection"), "sqlite:///")
	assert.Equal(t, "v3applicationcredential", iniGet(t, target, "keystone_authtoken", "auth_type"))
	assert.Equal(t, "cred-glance", iniGet(t, target, "keystone_authtoken", "application_credential_id"))

	runner.AssertExpectations(t)
}

func TestConfigureServiceSkipsAuthtokenWithoutCredential(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	runner := new(execMocks.MockRunner)
	b := newTestBootstrapper(t, cfg, runner)

	runner.On("Run", ctx, anyCmd("cinder-manage")).Return("", nil)

	choice := database.SelectConnection("cinder", cfg.Paths.State, cfg.DefaultDBType, b.lookup)
	res := &Result{Configs: map[string]string{}}
	require.NoError(t, b.ConfigureService(ctx, "cinder", choice, res))

	assert.Empty(t, iniGet(t, res.Configs["cinder"], "keystone_authtoken", "auth_type"))
}

func TestConfigureNovaPeerAuth(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	runner := new(execMocks.MockRunner)
	b := newTestBootstrapper(t, cfg, runner)

	// ironic has a credential, neutron falls back to password auth
	writeCred(t, cfg, "ironic", "cred-ironic", "s1")

	runner.On("Run", ctx, anyCmd("nova-manage")).Return("", nil)

	choice := database.SelectConnection("nova", cfg.Paths.State, cfg.DefaultDBType, b.lookup)
	res := &Result{Configs: map[string]string{}}
	require.NoError(t, b.ConfigureNova(ctx, choice, res))

	target := res.Configs["nova"]
	assert.Equal(t, "v3applicationcredential", iniGet(t, target, "ironic", "auth_type"))
	assert.Equal(t, "cred-ironic", iniGet(t, target, "ironic", "application_credential_id"))

	assert.Equal(t, "password", iniGet(t, target, "neutron", "auth_type"))
	assert.Equal(t, "neutron", iniGet(t, target, "neutron", "username"))
	assert.Equal(t, "neutron", iniGet(t, target, "neutron", "password"))

	assert.Equal(t, "ironic.IronicDriver", iniGet(t, target, "DEFAULT", "compute_driver"))
	assert.Equal(t, "0.0.0.0", iniGet(t, target, "DEFAULT", "osapi_compute_listen"))

	// all four nova sync steps ran
	runner.AssertNumberOfCalls(t, "Run", 4)
}

func TestConfigureKeystone(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	runner := new(execMocks.MockRunner)
	b := newTestBootstrapper(t, cfg, runner)

	runner.On("Run", ctx, mock.Anything).Return(`{"id": "generated"}`, nil)

	choice := database.SelectConnection("keystone", cfg.Paths.State, cfg.DefaultDBType, b.lookup)
	res := &Result{Configs: map[string]string{}}
	require.NoError(t, b.ConfigureKeystone(ctx, choice, res))

	target := res.Configs["keystone"]
	assert.Equal(t, "sql", iniGet(t, target, "application_credential", "driver"))
	assert.Equal(t, "True", iniGet(t, target, "application_credential", "enable"))

	// every dependent service got an application credential
	for _, svc := range []string{"glance", "cinder", "neutron", "ironic", "nova", "horizon"} {
		cred, err := b.creds.Load(svc)
		require.NoError(t, err, svc)
		assert.Equal(t, "generated", cred.ID)
	}
}

func TestConfigureHorizon(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	t.Run("with application credential", func(t *testing.T) {
		runner := new(execMocks.MockRunner)
		b := newTestBootstrapper(t, cfg, runner)
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.Paths.Etc, "openstack-dashboard"), 0o755))
		writeCred(t, cfg, "horizon", "cred-horizon", "hsec")

		require.NoError(t, b.ConfigureHorizon(ctx))

		content, err := os.ReadFile(filepath.Join(cfg.Paths.Etc, "openstack-dashboard", "local_settings.py"))
		require.NoError(t, err)
		assert.Contains(t, string(content), "SECRET_KEY = 'supersecret'")
		assert.Contains(t, string(content), "OPENSTACK_HOST = 'localhost'")
		assert.Contains(t, string(content), "'application_credential_id': 'cred-horizon'")
	})

	t.Run("without application credential", func(t *testing.T) {
		cfg := testConfig(t)
		runner := new(execMocks.MockRunner)
		b := newTestBootstrapper(t, cfg, runner)
		b.lookup = func(k string) string {
			if k == "OPENSTACK_HOST" {
				return "stack.example"
			}
			return ""
		}
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.Paths.Etc, "openstack-dashboard"), 0o755))

		require.NoError(t, b.ConfigureHorizon(ctx))

		content, err := os.ReadFile(filepath.Join(cfg.Paths.Etc, "openstack-dashboard", "local_settings.py"))
		require.NoError(t, err)
		assert.Contains(t, string(content), "OPENSTACK_HOST = 'stack.example'")
		assert.NotContains(t, string(content), "APPLICATION_CREDENTIAL_SETTINGS")
	})
}

func TestFrontendProgram(t *testing.T) {
	cfg := testConfig(t)
	b := newTestBootstrapper(t, cfg, new(execMocks.MockRunner))

	prog, err := b.FrontendProgram()
	require.NoError(t, err)

	assert.Equal(t, "frontend", prog.Name)
	assert.Equal(t, "mod_wsgi-express", prog.Argv[0])

	wsgiDir := filepath.Join(cfg.Paths.State, "wsgi")
	for _, f := range []string{"horizon.conf", "keystone.conf"} {
		_, err := os.Stat(filepath.Join(wsgiDir, f))
		assert.NoError(t, err, f)
	}
	assert.Contains(t, prog.Argv, filepath.Join(wsgiDir, "keystone.conf"))
}

func TestRunEndToEndWithSqlite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	runner := new(execMocks.MockRunner)
	b := newTestBootstrapper(t, cfg, runner)

	runner.On("Run", ctx, mock.Anything).Return(`{"id": "e2e"}`, nil)

	res, err := b.Run(ctx)
	require.NoError(t, err)

	// sqlite fallback keeps no health database handle
	assert.Nil(t, res.HealthDB)

	// six services render a config
	assert.Len(t, res.Configs, 6)

	// frontend + glance + cinder + neutron + ironic + 4x nova
	names := make([]string, 0, len(res.Programs))
	for _, p := range res.Programs {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{
		"frontend", "glance-api", "cinder-api", "neutron-server",
		"ironic-api", "nova-api", "nova-conductor", "nova-scheduler", "nova-compute",
	}, names)
}
