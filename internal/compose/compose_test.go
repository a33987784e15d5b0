package compose

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogLookup(t *testing.T) {
	info, ok := Lookup("postgresql")
	require.True(t, ok)
	assert.Equal(t, 5432, info.DefaultPort)
	assert.Equal(t, CategoryDatabase, info.Category)

	_, ok = Lookup("mongodb")
	assert.False(t, ok)
}

func TestGenerateBasicStack(t *testing.T) {
	p := Project{
		Name: "shop",
		Services: map[string]ServiceConfig{
			"postgresql": {Enabled: true, Version: "16"},
			"redis":      {Enabled: true, Port: 7000},
			"mysql":      {Enabled: false},
		},
	}
	f, err := Generate(p)
	require.NoError(t, err)

	require.Len(t, f.Services, 2)
	pg := f.Services["postgresql"]
	assert.Equal(t, "postgres:16", pg.Image)
	assert.Equal(t, "dockhand_shop_postgresql", pg.ContainerName)
	assert.Equal(t, []string{"5432:5432"}, pg.Ports)
	assert.Equal(t, "shop", pg.Environment["POSTGRES_DB"])
	require.NotNil(t, pg.Healthcheck)
	assert.Equal(t, 5, pg.Healthcheck.Retries)

	redis := f.Services["redis"]
	assert.Equal(t, "redis:latest", redis.Image)
	assert.Equal(t, []string{"7000:6379"}, redis.Ports)

	_, hasVol := f.Volumes["shop_pgdata"]
	assert.True(t, hasVol)
	_, hasNet := f.Networks["shop_net"]
	assert.True(t, hasNet)
}

func TestGenerateRejectsUnknownService(t *testing.T) {
	_, err := Generate(Project{
		Name:     "x",
		Services: map[string]ServiceConfig{"mongodb": {Enabled: true}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service")
}

func TestGenerateRejectsEmptyProject(t *testing.T) {
	_, err := Generate(Project{Name: "empty"})
	require.Error(t, err)

	_, err = Generate(Project{Services: map[string]ServiceConfig{"redis": {Enabled: true}}})
	require.Error(t, err)
}

func TestAdminDependencies(t *testing.T) {
	p := Project{
		Name: "lamp",
		Services: map[string]ServiceConfig{
			"mysql":      {Enabled: true},
			"phpmyadmin": {Enabled: true},
			"adminer":    {Enabled: true},
			"pgadmin":    {Enabled: true}, // no postgresql in the project
		},
	}
	f, err := Generate(p)
	require.NoError(t, err)

	assert.Equal(t, []string{"mysql"}, f.Services["phpmyadmin"].DependsOn)
	assert.Equal(t, []string{"mysql"}, f.Services["adminer"].DependsOn)
	assert.Empty(t, f.Services["pgadmin"].DependsOn)
}

func TestPHPImageUsesFPM(t *testing.T) {
	p := Project{
		Name:     "web",
		Services: map[string]ServiceConfig{"php": {Enabled: true, Version: "8.3"}},
	}
	f, err := Generate(p)
	require.NoError(t, err)
	assert.Equal(t, "php:8.3-fpm", f.Services["php"].Image)
	assert.Empty(t, f.Services["php"].Ports)
}

func TestMarshalIsDeterministic(t *testing.T) {
	p := Project{
		Name: "det",
		Services: map[string]ServiceConfig{
			"postgresql": {Enabled: true},
			"redis":      {Enabled: true},
			"nginx":      {Enabled: true},
			"pgadmin":    {Enabled: true},
		},
	}
	first, err := Marshal(p)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Marshal(p)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(first, again), "render %d differs", i)
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := Project{
		Name: "rt",
		Dir:  filepath.Join(dir, "rt"),
		Services: map[string]ServiceConfig{
			"mysql": {Enabled: true, Env: map[string]string{"MYSQL_USER": "app"}},
		},
	}
	path, err := WriteFile(p)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var f File
	require.NoError(t, yaml.Unmarshal(data, &f))
	svc := f.Services["mysql"]
	assert.Equal(t, "mysql:latest", svc.Image)
	assert.Equal(t, "app", svc.Environment["MYSQL_USER"])
	assert.Equal(t, map[string]Network{"rt_net": {Driver: "bridge"}}, f.Networks)
}
