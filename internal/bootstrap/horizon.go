package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"stackinit/internal/appcred"
	"stackinit/internal/execx"
	"stackinit/internal/inicfg"
)

const horizonSettingsTemplate = `import os

DEBUG = False
ALLOWED_HOSTS = ['*']
SECRET_KEY = '{{.SecretKey}}'

# OpenStack API endpoints
OPENSTACK_HOST = '{{.Host}}'
OPENSTACK_KEYSTONE_URL = 'http://%s:5000/v3' % OPENSTACK_HOST
OPENSTACK_KEYSTONE_DEFAULT_ROLE = 'member'
OPENSTACK_KEYSTONE_MULTIDOMAIN_SUPPORT = True

# Database
DATABASES = {
    'default': {
        'ENGINE': 'django.db.backends.sqlite3',
        'NAME': '{{.StateDir}}/horizon.sqlite3',
    }
}

# Session settings
SESSION_ENGINE = 'django.contrib.sessions.backends.cache'
CACHES = {
    'default': {
        'BACKEND': 'django.core.cache.backends.locmem.LocMemCache',
    }
}

# Configure API versions
OPENSTACK_API_VERSIONS = {
    'identity': 3,
    'image': 2,
    'volume': 3,
}

# Enable application credential auth in Horizon
AUTHENTICATION_PLUGINS = ['openstack_auth.plugin.password.Password',
                          'openstack_auth.plugin.application_credential.ApplicationCredential']
{{- if .AppCred}}

# Application credential settings for Horizon
APPLICATION_CREDENTIAL_SETTINGS = {
    'application_credential_id': '{{.AppCred.ID}}',
    'application_credential_secret': '{{.AppCred.Secret}}'
}
{{- end}}
`

type horizonSettings struct {
	SecretKey string
	Host      string
	StateDir  string
	AppCred   *appcred.Credential
}

// ConfigureHorizon renders the dashboard's local_settings.py and, when a
// django management script is configured, collects and compresses its static
// assets.
func (b *Bootstrapper) ConfigureHorizon(ctx context.Context) error {
	settingsPath := filepath.Join(b.cfg.Paths.Etc, "openstack-dashboard", "local_settings.py")

	data := horizonSettings{
		SecretKey: b.lookupOr("HORIZON_SECRET_KEY", "supersecret"),
		Host:      b.lookupOr("OPENSTACK_HOST", "localhost"),
		StateDir:  b.cfg.Paths.State,
	}
	if cred, err := b.creds.Load("horizon"); err == nil {
		data.AppCred = cred
		b.log.Info("horizon_app_cred_applied", nil)
	}

	if _, err := inicfg.Backup(settingsPath); err != nil {
		return err
	}

	tmpl := template.Must(template.New("local_settings").Parse(horizonSettingsTemplate))
	f, err := os.OpenFile(settingsPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create horizon settings: %w", err)
	}
	if err := tmpl.Execute(f, data); err != nil {
		f.Close()
		return fmt.Errorf("render horizon settings: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	b.log.Info("horizon_settings_written", map[string]any{"path": settingsPath})

	// static asset collection needs the dashboard's manage.py, whose
	// location depends on how the image was built
	manage := b.lookup("HORIZON_MANAGE_SCRIPT")
	if manage == "" {
		return nil
	}
	for _, args := range [][]string{
		{manage, "collectstatic", "--noinput"},
		{manage, "compress", "--force"},
	} {
		if _, err := b.runner.Run(ctx, execx.Command{Name: "python", Args: args}); err != nil {
			return fmt.Errorf("horizon static assets: %w", err)
		}
	}
	return nil
}

func (b *Bootstrapper) lookupOr(key, def string) string {
	if v := b.lookup(key); v != "" {
		return v
	}
	return def
}
