// Package database describes the logical databases a backup run covers.
package database

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// PrimaryName is the logical name of the main database.
// Its archive carries no file name prefix and must exist on restore.
const PrimaryName = "main"

// Configuration is the database.yml entry of one logical database
type Configuration struct {
	Adapter        string `yaml:"adapter" validate:"required,oneof=postgresql"`
	Database       string `yaml:"database" validate:"required"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	SSLMode        string `yaml:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	SSLRootCert    string `yaml:"sslrootcert"`
	ConnectTimeout int    `yaml:"connect_timeout" validate:"omitempty,min=0"`

	// DatabaseTasks=false marks a connection sharing storage with another one
	DatabaseTasks *bool `yaml:"database_tasks"`
}

// Connection is one logical database taking part in a backup run
type Connection struct {
	Name   string
	Config Configuration
}

// IsPrimary reports whether this is the main database
func (c Connection) IsPrimary() bool {
	return c.Name == PrimaryName
}

// IsShared reports whether the connection shares storage with another one
func (c Connection) IsShared() bool {
	return c.Config.DatabaseTasks != nil && !*c.Config.DatabaseTasks
}

// PgEnv returns the libpq environment variables command-line tooling needs
func (c Connection) PgEnv() map[string]string {
	cfg := c.Config
	env := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			env[key] = value
		}
	}

	set("PGHOST", cfg.Host)
	if cfg.Port > 0 {
		set("PGPORT", strconv.Itoa(cfg.Port))
	}
	set("PGUSER", cfg.Username)
	set("PGPASSWORD", cfg.Password)
	set("PGSSLMODE", cfg.SSLMode)
	set("PGSSLROOTCERT", cfg.SSLRootCert)
	if cfg.ConnectTimeout > 0 {
		set("PGCONNECT_TIMEOUT", strconv.Itoa(cfg.ConnectTimeout))
	}
	return env
}

// Environ renders PgEnv as KEY=value pairs in a stable order
func (c Connection) Environ() []string {
	env := c.PgEnv()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Variables returns the adapter-keyed configuration with the password redacted.
// It is what error messages show to the operator.
func (c Connection) Variables() map[string]string {
	cfg := c.Config
	vars := map[string]string{
		"adapter":  cfg.Adapter,
		"database": cfg.Database,
	}
	if cfg.Host != "" {
		vars["host"] = cfg.Host
	}
	if cfg.Port > 0 {
		vars["port"] = strconv.Itoa(cfg.Port)
	}
	if cfg.Username != "" {
		vars["username"] = cfg.Username
	}
	if cfg.Password != "" {
		vars["password"] = "[FILTERED]"
	}
	return vars
}

// DescribeVariables renders connection variables as indented "key: value"
// lines, sorted by key
func DescribeVariables(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %s\n", k, vars[k])
	}
	return b.String()
}

// ConnString returns a postgres:// URL for drivers
func (c Connection) ConnString() string {
	cfg := c.Config
	u := url.URL{
		Scheme: "postgres",
		Path:   "/" + cfg.Database,
	}

	host := cfg.Host
	if cfg.Port > 0 {
		host = fmt.Sprintf("%s:%d", host, cfg.Port)
	}
	u.Host = host

	if cfg.Username != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.Username, cfg.Password)
		} else {
			u.User = url.User(cfg.Username)
		}
	}

	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	if cfg.SSLRootCert != "" {
		q.Set("sslrootcert", cfg.SSLRootCert)
	}
	if cfg.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(cfg.ConnectTimeout))
	}
	// Unix socket directories go in the host parameter
	if strings.HasPrefix(cfg.Host, "/") {
		u.Host = ""
		q.Set("host", cfg.Host)
		if cfg.Port > 0 {
			q.Set("port", strconv.Itoa(cfg.Port))
		}
	}
	u.RawQuery = q.Encode()

	return u.String()
}
