// Package inicfg renders service INI configuration: a shipped base file is
// merged with environment overrides and written to the service's config
// directory, backing up whatever was there before.
package inicfg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Overrides maps section -> option -> value.
type Overrides map[string]map[string]string

// EnvOverrides extracts overrides for a service from the given environment
// (os.Environ() form). Variables are matched by the SERVICE_ prefix and split
// as SERVICE_SECTION_OPTION=value: the first underscore after the prefix ends
// the section name, the remainder is the option. Section and option are
// lowercased. Variables with no section/option split are ignored.
func EnvOverrides(environ []string, service string) Overrides {
	prefix := strings.ToUpper(service) + "_"
	out := Overrides{}
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, value := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		parts := strings.SplitN(rest, "_", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		section := strings.ToLower(parts[0])
		option := strings.ToLower(parts[1])
		if out[section] == nil {
			out[section] = map[string]string{}
		}
		out[section][option] = value
	}
	return out
}

// Backup copies an existing file aside with a timestamp suffix and returns
// the backup path. It returns "" when the file does not exist.
func Backup(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open for backup: %w", err)
	}
	defer src.Close()

	bak := fmt.Sprintf("%s.bak.%s", path, time.Now().UTC().Format("20060102T150405"))
	dst, err := os.OpenFile(bak, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return bak, nil
}

// Merge loads the base INI (missing base yields an empty config), applies the
// overrides, and writes the result to targetPath. A pre-existing target is
// backed up first, so a re-render never loses the previous state.
func Merge(basePath, targetPath string, ov Overrides) error {
	if _, err := Backup(targetPath); err != nil {
		return err
	}

	cfg, err := ini.LooseLoad(basePath)
	if err != nil {
		return fmt.Errorf("load base config %s: %w", basePath, err)
	}

	// Stable iteration keeps renders reproducible.
	sections := make([]string, 0, len(ov))
	for s := range ov {
		sections = append(sections, s)
	}
	sort.Strings(sections)
	for _, section := range sections {
		options := make([]string, 0, len(ov[section]))
		for o := range ov[section] {
			options = append(options, o)
		}
		sort.Strings(options)
		for _, option := range options {
			cfg.Section(section).Key(option).SetValue(ov[section][option])
		}
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := cfg.SaveTo(targetPath); err != nil {
		return fmt.Errorf("write config %s: %w", targetPath, err)
	}
	return nil
}

// SetSection updates (or creates) one section of an already rendered config.
func SetSection(path, section string, values map[string]string) error {
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg.Section(section).Key(k).SetValue(values[k])
	}
	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Get reads a single option from a rendered config; missing files, sections,
// or options return "".
func Get(path, section, option string) string {
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return ""
	}
	return cfg.Section(section).Key(option).String()
}
