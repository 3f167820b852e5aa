package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
)

func load(t *testing.T, yaml string) (*Settings, error) {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	s, err := load(t, "")
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config/tally/tally.rules"), s.Rules.File)
	assert.Equal(t, "info", s.Logging.Level)
	assert.GreaterOrEqual(t, s.Run.Workers, 1)

	opts, err := s.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, engine.FirstMatch, opts.Mode)
}

func TestLoad(t *testing.T) {
	s, err := load(t, `
rules:
  file: /etc/tally/tally.rules
  mode: most_specific
home_locations: [CA, NV]
data_sources:
  - name: amazon_orders
    file: /data/orders.csv
csv:
  delimiter: ";"
  decimal_comma: true
run:
  workers: 4
logging:
  level: debug
  format: json
`)
	require.NoError(t, err)
	assert.Equal(t, "/etc/tally/tally.rules", s.Rules.File)
	assert.Equal(t, []string{"CA", "NV"}, s.HomeLocations)
	require.Len(t, s.DataSources, 1)
	assert.Equal(t, "amazon_orders", s.DataSources[0].Name)
	assert.Equal(t, 4, s.Run.Workers)

	opts, err := s.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, engine.MostSpecific, opts.Mode)
	assert.Equal(t, []string{"CA", "NV"}, opts.HomeLocations)

	spec := s.CSV.ColumnSpec()
	assert.Equal(t, ';', spec.Delimiter)
	assert.True(t, spec.DecimalComma)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{name: "mode", yaml: "rules:\n  mode: fastest\n", wantMsg: "rules.mode fails oneof"},
		{name: "log level", yaml: "logging:\n  level: loud\n", wantMsg: "logging.level fails oneof"},
		{name: "workers", yaml: "run:\n  workers: 0\n", wantMsg: "run.workers fails min=1"},
		{name: "delimiter", yaml: "csv:\n  delimiter: ';;'\n", wantMsg: "csv.delimiter fails len=1"},
		{name: "data source", yaml: "data_sources:\n  - name: orders\n", wantMsg: "data_sources[0].file fails required"},
		{name: "home location", yaml: "home_locations: ['']\n", wantMsg: "home_locations[0] fails required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.yaml)
			require.ErrorIs(t, err, common.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_RelativeToConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  file: tally.rules\n  views_file: views.rules\ndatabase:\n  path: /var/lib/tally.db\n"), 0o600))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	s, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tally.rules"), s.Rules.File)
	assert.Equal(t, filepath.Join(dir, "views.rules"), s.Rules.ViewsFile)
	assert.Equal(t, "/var/lib/tally.db", s.Database.Path)
	assert.Empty(t, s.Rules.BaselineFile)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("TALLY_TEST_DIR", "/srv/tally")

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "~", want: home},
		{in: "~/rules/tally.rules", want: filepath.Join(home, "rules/tally.rules")},
		{in: "$TALLY_TEST_DIR/tally.db", want: "/srv/tally/tally.db"},
		{in: "/abs/path", want: "/abs/path"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}

	assert.Equal(t, "/base/x.rules", ResolvePath("/base", "x.rules"))
	assert.Equal(t, "x.rules", ResolvePath("", "x.rules"))
}
