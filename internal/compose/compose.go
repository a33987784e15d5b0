// Package compose renders docker-compose.yml files for managed stacks.
//
// A Project selects services out of a fixed catalog; Generate expands each
// selection into a full service definition (image, ports, volumes, network,
// healthcheck) and Marshal serializes the result with stable key ordering so
// regenerating an unchanged project produces an identical file.
package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-yaml"
)

// FileName is the compose file written into each project directory.
const FileName = "docker-compose.yml"

// ServiceConfig is one user selection from the catalog.
type ServiceConfig struct {
	Enabled bool
	Port    int    // host port; 0 means the catalog default
	Version string // image tag; empty means "latest"
	Env     map[string]string
}

// Project is the input to generation.
type Project struct {
	Name     string
	Dir      string
	Services map[string]ServiceConfig
}

// File mirrors the compose v2 document layout.
type File struct {
	Services map[string]Service  `yaml:"services"`
	Volumes  map[string]struct{} `yaml:"volumes,omitempty"`
	Networks map[string]Network  `yaml:"networks"`
}

type Service struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Restart       string            `yaml:"restart"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	Networks      []string          `yaml:"networks"`
	DependsOn     []string          `yaml:"depends_on,omitempty"`
	Healthcheck   *Healthcheck      `yaml:"healthcheck,omitempty"`
}

type Healthcheck struct {
	Test     []string `yaml:"test"`
	Interval string   `yaml:"interval"`
	Timeout  string   `yaml:"timeout"`
	Retries  int      `yaml:"retries"`
}

type Network struct {
	Driver string `yaml:"driver"`
}

// Generate expands project selections into a compose document.
// Unknown service names are rejected.
func Generate(p Project) (*File, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("compose: project name is empty")
	}
	network := p.Name + "_net"
	f := &File{
		Services: make(map[string]Service),
		Volumes:  make(map[string]struct{}),
		Networks: map[string]Network{network: {Driver: "bridge"}},
	}
	for name, cfg := range p.Services {
		if !cfg.Enabled {
			continue
		}
		info, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("compose: unknown service %q", name)
		}
		svc, volumes := render(p.Name, info, cfg, network)
		f.Services[name] = svc
		for _, v := range volumes {
			f.Volumes[v] = struct{}{}
		}
	}
	if len(f.Services) == 0 {
		return nil, fmt.Errorf("compose: project %q has no enabled services", p.Name)
	}
	resolveDependencies(f)
	return f, nil
}

// render builds one service definition plus the named volumes it needs.
func render(project string, info ServiceInfo, cfg ServiceConfig, network string) (Service, []string) {
	tag := cfg.Version
	if tag == "" {
		tag = "latest"
	}
	port := cfg.Port
	if port == 0 {
		port = info.DefaultPort
	}
	svc := Service{
		ContainerName: fmt.Sprintf("dockhand_%s_%s", project, info.Name),
		Restart:       "unless-stopped",
		Networks:      []string{network},
	}
	env := map[string]string{}
	var volumes []string

	switch info.Name {
	case "postgresql":
		svc.Image = "postgres:" + tag
		svc.Ports = []string{fmt.Sprintf("%d:5432", port)}
		env["POSTGRES_USER"] = "dockhand"
		env["POSTGRES_PASSWORD"] = "dockhand"
		env["POSTGRES_DB"] = project
		vol := project + "_pgdata"
		volumes = append(volumes, vol)
		svc.Volumes = []string{vol + ":/var/lib/postgresql/data"}
		svc.Healthcheck = &Healthcheck{
			Test:     []string{"CMD-SHELL", "pg_isready -U dockhand"},
			Interval: "10s",
			Timeout:  "5s",
			Retries:  5,
		}
	case "mysql":
		svc.Image = "mysql:" + tag
		svc.Ports = []string{fmt.Sprintf("%d:3306", port)}
		env["MYSQL_ROOT_PASSWORD"] = "dockhand"
		env["MYSQL_DATABASE"] = project
		vol := project + "_mysqldata"
		volumes = append(volumes, vol)
		svc.Volumes = []string{vol + ":/var/lib/mysql"}
		svc.Healthcheck = &Healthcheck{
			Test:     []string{"CMD", "mysqladmin", "ping", "-h", "localhost"},
			Interval: "10s",
			Timeout:  "5s",
			Retries:  5,
		}
	case "redis":
		svc.Image = "redis:" + tag
		svc.Ports = []string{fmt.Sprintf("%d:6379", port)}
		svc.Healthcheck = &Healthcheck{
			Test:     []string{"CMD", "redis-cli", "ping"},
			Interval: "10s",
			Timeout:  "5s",
			Retries:  5,
		}
	case "nginx":
		svc.Image = "nginx:" + tag
		svc.Ports = []string{fmt.Sprintf("%d:80", port)}
		svc.Volumes = []string{"./nginx/conf.d:/etc/nginx/conf.d:ro", "./public:/usr/share/nginx/html:ro"}
	case "apache":
		svc.Image = "httpd:" + tag
		svc.Ports = []string{fmt.Sprintf("%d:80", port)}
		svc.Volumes = []string{"./public:/usr/local/apache2/htdocs:ro"}
	case "php":
		svc.Image = "php:" + phpTag(tag)
		svc.Volumes = []string{"./public:/var/www/html"}
	case "phpmyadmin":
		svc.Image = "phpmyadmin:" + tag
		svc.Ports = []string{fmt.Sprintf("%d:80", port)}
		env["PMA_HOST"] = "mysql"
	case "pgadmin":
		svc.Image = "dpage/pgadmin4:" + tag
		svc.Ports = []string{fmt.Sprintf("%d:80", port)}
		env["PGADMIN_DEFAULT_EMAIL"] = "admin@dockhand.local"
		env["PGADMIN_DEFAULT_PASSWORD"] = "dockhand"
	case "adminer":
		svc.Image = "adminer:" + tag
		svc.Ports = []string{fmt.Sprintf("%d:8080", port)}
	}

	for k, v := range cfg.Env {
		env[k] = v
	}
	if len(env) > 0 {
		svc.Environment = env
	}
	return svc, volumes
}

// phpTag pins the fpm variant so the image works behind nginx/apache.
func phpTag(tag string) string {
	if tag == "latest" {
		return "fpm"
	}
	return tag + "-fpm"
}

// resolveDependencies wires admin UIs to the database they front, but only
// when that database is part of the same project.
func resolveDependencies(f *File) {
	wants := map[string][]string{
		"phpmyadmin": {"mysql"},
		"pgadmin":    {"postgresql"},
		"adminer":    {"mysql", "postgresql"},
	}
	for name, deps := range wants {
		svc, ok := f.Services[name]
		if !ok {
			continue
		}
		var present []string
		for _, dep := range deps {
			if _, ok := f.Services[dep]; ok {
				present = append(present, dep)
			}
		}
		sort.Strings(present)
		svc.DependsOn = present
		f.Services[name] = svc
	}
}

// Marshal renders the compose document with deterministic key order.
func Marshal(p Project) ([]byte, error) {
	f, err := Generate(p)
	if err != nil {
		return nil, err
	}
	return yaml.MarshalWithOptions(f, yaml.UseLiteralStyleIfMultiline(true))
}

// WriteFile renders the project and writes docker-compose.yml into its
// directory, creating the directory if needed. Returns the file path.
func WriteFile(p Project) (string, error) {
	data, err := Marshal(p)
	if err != nil {
		return "", err
	}
	if p.Dir == "" {
		return "", fmt.Errorf("compose: project %q has no directory", p.Name)
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", fmt.Errorf("compose: create project dir: %w", err)
	}
	path := filepath.Join(p.Dir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("compose: write %s: %w", path, err)
	}
	return path, nil
}
