package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stackinit/internal/catalog"
	"stackinit/internal/database"
	"stackinit/internal/execx"
	"stackinit/internal/inicfg"
)

// renderConfig merges a service's base INI with its environment overrides and
// writes the database connection. Returns the rendered path.
func (b *Bootstrapper) renderConfig(svc catalog.Service, choice database.Choice) (string, error) {
	base := filepath.Join(b.cfg.ConfigSourceDir, svc.BaseConfig)
	target := svc.ConfigTarget()

	ov := inicfg.EnvOverrides(b.environ(), svc.Name)
	if err := inicfg.Merge(base, target, ov); err != nil {
		return "", fmt.Errorf("render %s config: %w", svc.Name, err)
	}
	if err := inicfg.SetSection(target, "database", map[string]string{
		"connection": choice.DSN,
	}); err != nil {
		return "", fmt.Errorf("set %s database connection: %w", svc.Name, err)
	}

	flavor := "sqlite"
	if choice.Postgres {
		flavor = "postgresql"
	}
	b.log.Info("config_rendered", map[string]any{
		"service": svc.Name,
		"target":  target,
		"db":      flavor,
	})
	return target, nil
}

// applyAuthtoken points a service's keystone_authtoken section at its
// application credential. Missing credentials are skipped, matching first
// boot where services are configured before keystone has issued them.
func (b *Bootstrapper) applyAuthtoken(service, target string) error {
	cred, err := b.creds.Load(service)
	if err != nil {
		if os.IsNotExist(err) {
			b.log.Warn("app_cred_missing", map[string]any{"service": service})
			return nil
		}
		return err
	}
	return inicfg.SetSection(target, "keystone_authtoken", map[string]string{
		"auth_type":                     "v3applicationcredential",
		"auth_url":                      b.cfg.AuthURL,
		"application_credential_id":     cred.ID,
		"application_credential_secret": cred.Secret,
	})
}

// runSyncs runs a service's schema sync commands, substituting the rendered
// config path where the catalog asks for it.
func (b *Bootstrapper) runSyncs(ctx context.Context, svc catalog.Service, target string) error {
	for _, argv := range svc.SyncArgv {
		args := make([]string, 0, len(argv)-1)
		for _, a := range argv[1:] {
			if a == catalog.ConfigPlaceholder {
				a = target
			}
			args = append(args, a)
		}
		if _, err := b.runner.Run(ctx, execx.Command{Name: argv[0], Args: args}); err != nil {
			return fmt.Errorf("%s schema sync: %w", svc.Name, err)
		}
	}
	return nil
}

// ConfigureKeystone renders keystone.conf, enables application credentials,
// syncs the schema, bootstraps the identity service, and creates application
// credentials for every dependent service.
func (b *Bootstrapper) ConfigureKeystone(ctx context.Context, choice database.Choice, res *Result) error {
	svc, ok := catalog.Lookup(b.cfg.Paths, "keystone")
	if !ok {
		return fmt.Errorf("keystone missing from catalog")
	}
	target, err := b.renderConfig(svc, choice)
	if err != nil {
		return err
	}
	res.Configs["keystone"] = target

	if err := inicfg.SetSection(target, "application_credential", map[string]string{
		"driver": "sql",
		"enable": "True",
	}); err != nil {
		return fmt.Errorf("enable application credentials: %w", err)
	}

	if err := b.runSyncs(ctx, svc, target); err != nil {
		return err
	}

	bootstrapURL := b.cfg.AuthURL + "/"
	_, err = b.runner.Run(ctx, execx.Command{
		Name: "keystone-manage",
		Args: []string{
			"bootstrap",
			"--bootstrap-password", b.cfg.KeystoneAdminPassword,
			"--bootstrap-admin-url", bootstrapURL,
			"--bootstrap-internal-url", bootstrapURL,
			"--bootstrap-public-url", bootstrapURL,
			"--bootstrap-region-id", "RegionOne",
		},
	})
	if err != nil {
		return fmt.Errorf("keystone bootstrap: %w", err)
	}

	return b.creds.EnsureAll(ctx, b.cfg.KeystoneAdminPassword, catalog.AppCredServices())
}

// ConfigureService handles glance, cinder, neutron, and ironic: render,
// credential auth, schema sync.
func (b *Bootstrapper) ConfigureService(ctx context.Context, name string, choice database.Choice, res *Result) error {
	svc, ok := catalog.Lookup(b.cfg.Paths, name)
	if !ok {
		return fmt.Errorf("%s missing from catalog", name)
	}
	target, err := b.renderConfig(svc, choice)
	if err != nil {
		return err
	}
	res.Configs[name] = target

	if err := b.applyAuthtoken(name, target); err != nil {
		return err
	}
	return b.runSyncs(ctx, svc, target)
}

// ConfigureNova renders nova.conf and wires it to ironic and neutron with
// application credentials, falling back to password auth when a credential
// is unavailable.
func (b *Bootstrapper) ConfigureNova(ctx context.Context, choice database.Choice, res *Result) error {
	svc, ok := catalog.Lookup(b.cfg.Paths, "nova")
	if !ok {
		return fmt.Errorf("nova missing from catalog")
	}
	target, err := b.renderConfig(svc, choice)
	if err != nil {
		return err
	}
	res.Configs["nova"] = target

	if err := b.applyAuthtoken("nova", target); err != nil {
		return err
	}

	for _, peer := range []string{"ironic", "neutron"} {
		if err := b.wirePeerAuth(target, peer); err != nil {
			return err
		}
	}

	if err := inicfg.SetSection(target, "DEFAULT", map[string]string{
		"compute_driver":            "ironic.IronicDriver",
		"osapi_compute_listen":      "0.0.0.0",
		"osapi_compute_listen_port": "8774",
		"metadata_listen":           "0.0.0.0",
		"metadata_listen_port":      "8775",
	}); err != nil {
		return fmt.Errorf("set nova defaults: %w", err)
	}

	return b.runSyncs(ctx, svc, target)
}

// wirePeerAuth writes the [ironic] / [neutron] section of nova.conf.
func (b *Bootstrapper) wirePeerAuth(target, peer string) error {
	cred, err := b.creds.Load(peer)
	if err == nil {
		return inicfg.SetSection(target, peer, map[string]string{
			"auth_type":                     "v3applicationcredential",
			"auth_url":                      b.cfg.AuthURL,
			"application_credential_id":     cred.ID,
			"application_credential_secret": cred.Secret,
		})
	}
	if !os.IsNotExist(err) {
		return err
	}

	password := b.lookup(strings.ToUpper(peer) + "_SERVICE_PASSWORD")
	if password == "" {
		password = peer
	}
	return inicfg.SetSection(target, peer, map[string]string{
		"auth_type":           "password",
		"auth_url":            b.cfg.AuthURL,
		"project_name":        "service",
		"username":            peer,
		"password":            password,
		"user_domain_name":    "Default",
		"project_domain_name": "Default",
	})
}
