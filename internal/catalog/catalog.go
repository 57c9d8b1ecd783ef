// Package catalog describes the OpenStack services this container hosts:
// where each one's configuration lives, which directories it needs, how its
// database schema is synced, and which long-running processes it contributes.
package catalog

import (
	"path/filepath"

	"stackinit/internal/config"
)

// ConfigPlaceholder in a sync argv is replaced with the rendered config path.
const ConfigPlaceholder = "{config}"

// Process is a single long-running child the supervisor owns.
type Process struct {
	Name string
	Argv []string
}

// Service is one hosted OpenStack service.
type Service struct {
	Name string

	// ConfigDir is where the rendered INI lands. BaseConfig is the shipped
	// file name under the config source dir; empty means the service has no
	// INI to render (horizon).
	ConfigDir  string
	BaseConfig string

	DataDirs  []string
	SyncArgv  [][]string
	Processes []Process
}

// ConfigTarget returns the rendered config path for the service, or "" when
// it has no INI config.
func (s Service) ConfigTarget() string {
	if s.BaseConfig == "" {
		return ""
	}
	return filepath.Join(s.ConfigDir, s.BaseConfig)
}

// Services returns the full catalog rooted at the given paths, in the order
// they must be configured (keystone first, since everything authenticates
// against it).
func Services(p config.Paths) []Service {
	keystoneDir := filepath.Join(p.Etc, "keystone")
	glanceDir := filepath.Join(p.Etc, "glance")
	cinderDir := filepath.Join(p.Etc, "cinder")
	neutronDir := filepath.Join(p.Etc, "neutron")
	ironicDir := filepath.Join(p.Etc, "ironic")
	novaDir := filepath.Join(p.Etc, "nova")
	novaConf := filepath.Join(novaDir, "nova.conf")

	return []Service{
		{
			Name:       "keystone",
			ConfigDir:  keystoneDir,
			BaseConfig: "keystone.conf",
			DataDirs: []string{
				filepath.Join(keystoneDir, "fernet-keys"),
				filepath.Join(keystoneDir, "credential-keys"),
				filepath.Join(p.Log, "keystone"),
			},
			SyncArgv: [][]string{{"keystone-manage", "db_sync"}},
			// keystone runs inside the apache frontend, not standalone
		},
		{
			Name:       "glance",
			ConfigDir:  glanceDir,
			BaseConfig: "glance-api.conf",
			DataDirs: []string{
				filepath.Join(p.Lib, "glance", "images"),
				filepath.Join(p.Log, "glance"),
			},
			SyncArgv: [][]string{{"glance-manage", "db_sync"}},
			Processes: []Process{
				{Name: "glance-api", Argv: []string{"glance-api", "--config-file", filepath.Join(glanceDir, "glance-api.conf")}},
			},
		},
		{
			Name:       "cinder",
			ConfigDir:  cinderDir,
			BaseConfig: "cinder.conf",
			DataDirs: []string{
				filepath.Join(p.Lib, "cinder", "volumes"),
				filepath.Join(p.Log, "cinder"),
			},
			SyncArgv: [][]string{{"cinder-manage", "db", "sync"}},
			Processes: []Process{
				{Name: "cinder-api", Argv: []string{"cinder-api", "--config-file", filepath.Join(cinderDir, "cinder.conf")}},
			},
		},
		{
			Name:       "neutron",
			ConfigDir:  neutronDir,
			BaseConfig: "neutron.conf",
			DataDirs: []string{
				filepath.Join(p.Lib, "neutron"),
				filepath.Join(p.Log, "neutron"),
			},
			SyncArgv: [][]string{{"neutron-db-manage", "upgrade", "head"}},
			Processes: []Process{
				{Name: "neutron-server", Argv: []string{"neutron-server", "--config-file", filepath.Join(neutronDir, "neutron.conf")}},
			},
		},
		{
			Name:       "ironic",
			ConfigDir:  ironicDir,
			BaseConfig: "ironic.conf",
			DataDirs: []string{
				filepath.Join(p.Lib, "ironic"),
				filepath.Join(p.Log, "ironic"),
			},
			SyncArgv: [][]string{{"ironic-dbsync", "--config-file", ConfigPlaceholder, "create_schema"}},
			Processes: []Process{
				{Name: "ironic-api", Argv: []string{"ironic-api", "--config-file", filepath.Join(ironicDir, "ironic.conf")}},
			},
		},
		{
			Name:       "nova",
			ConfigDir:  novaDir,
			BaseConfig: "nova.conf",
			DataDirs: []string{
				filepath.Join(p.Lib, "nova"),
				filepath.Join(p.Lib, "nova", "instances"),
				filepath.Join(p.Log, "nova"),
			},
			SyncArgv: [][]string{
				{"nova-manage", "api_db", "sync"},
				{"nova-manage", "cell_v2", "map_cell0"},
				{"nova-manage", "cell_v2", "create_cell", "--name=cell1", "--verbose"},
				{"nova-manage", "db", "sync"},
			},
			Processes: []Process{
				{Name: "nova-api", Argv: []string{"nova-api", "--config-file", novaConf}},
				{Name: "nova-conductor", Argv: []string{"nova-conductor", "--config-file", novaConf}},
				{Name: "nova-scheduler", Argv: []string{"nova-scheduler", "--config-file", novaConf}},
				{Name: "nova-compute", Argv: []string{"nova-compute", "--config-file", novaConf}},
			},
		},
		{
			Name:      "horizon",
			ConfigDir: filepath.Join(p.Etc, "openstack-dashboard"),
			DataDirs: []string{
				filepath.Join(p.Log, "horizon"),
			},
			// horizon is served by the apache frontend
		},
	}
}

// Lookup returns the named service from the catalog rooted at p.
func Lookup(p config.Paths, name string) (Service, bool) {
	for _, s := range Services(p) {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// AppCredServices lists the services that authenticate against keystone with
// application credentials.
func AppCredServices() []string {
	return []string{"glance", "cinder", "neutron", "ironic", "nova", "horizon"}
}
