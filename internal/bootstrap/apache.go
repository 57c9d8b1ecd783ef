package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"stackinit/internal/catalog"
)

const horizonWSGIConf = `WSGIScriptAlias / /app/venv/bin/openstack-dashboard-wsgi
WSGIDaemonProcess horizon processes=3 threads=10
WSGIProcessGroup horizon
WSGIApplicationGroup %{GLOBAL}

<Directory /app/venv/bin>
    Require all granted
</Directory>
`

const keystoneWSGIConf = `Listen 5000
<VirtualHost *:5000>
    WSGIDaemonProcess keystone-public processes=5 threads=1
    WSGIProcessGroup keystone-public
    WSGIScriptAlias / /app/venv/bin/keystone-wsgi-public
    WSGIApplicationGroup %{GLOBAL}
    <Directory /app/venv/bin>
        Require all granted
    </Directory>
</VirtualHost>
`

// FrontendProgram writes the wsgi include files for keystone and horizon and
// returns the apache frontend process that serves both.
func (b *Bootstrapper) FrontendProgram() (catalog.Process, error) {
	wsgiDir := filepath.Join(b.cfg.Paths.State, "wsgi")
	if err := os.MkdirAll(wsgiDir, 0o755); err != nil {
		return catalog.Process{}, fmt.Errorf("create wsgi dir: %w", err)
	}

	horizonConf := filepath.Join(wsgiDir, "horizon.conf")
	keystoneConf := filepath.Join(wsgiDir, "keystone.conf")
	if err := os.WriteFile(horizonConf, []byte(horizonWSGIConf), 0o644); err != nil {
		return catalog.Process{}, fmt.Errorf("write horizon wsgi conf: %w", err)
	}
	if err := os.WriteFile(keystoneConf, []byte(keystoneWSGIConf), 0o644); err != nil {
		return catalog.Process{}, fmt.Errorf("write keystone wsgi conf: %w", err)
	}

	return catalog.Process{
		Name: "frontend",
		Argv: []string{
			"mod_wsgi-express", "start-server",
			"--port", "80",
			"--application-type", "module",
			"--log-to-terminal",
			"--working-directory", "/app",
			"--include-file", horizonConf,
			"--include-file", keystoneConf,
			"--server-root", "/tmp/mod_wsgi-httpd",
		},
	}, nil
}
