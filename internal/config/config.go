// Package config loads tally's settings from viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/ingest"
)

// Settings is the decoded configuration.
type Settings struct {
	Rules         RulesSettings           `mapstructure:"rules"`
	Database      DatabaseSettings        `mapstructure:"database"`
	Logging       LoggingSettings         `mapstructure:"logging"`
	CSV           CSVSettings             `mapstructure:"csv"`
	HomeLocations []string                `mapstructure:"home_locations" validate:"dive,required"`
	DataSources   []ingest.DataSourceSpec `mapstructure:"data_sources" validate:"dive"`
	Run           RunSettings             `mapstructure:"run"`
}

// RulesSettings locates the rule files.
type RulesSettings struct {
	File         string `mapstructure:"file" validate:"required"`
	BaselineFile string `mapstructure:"baseline_file"`
	ViewsFile    string `mapstructure:"views_file"`
	Mode         string `mapstructure:"mode" validate:"omitempty,oneof=first_match most_specific"`
}

// DatabaseSettings locates the results database.
type DatabaseSettings struct {
	Path string `mapstructure:"path"`
}

// LoggingSettings configures slog.
type LoggingSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// CSVSettings describes how statement CSV files are laid out.
type CSVSettings struct {
	DateFormat   string `mapstructure:"date_format"`
	Delimiter    string `mapstructure:"delimiter" validate:"omitempty,len=1"`
	DecimalComma bool   `mapstructure:"decimal_comma"`
	Negate       bool   `mapstructure:"negate"`
	Abs          bool   `mapstructure:"abs"`
}

// RunSettings tunes batch runs.
type RunSettings struct {
	Workers  int  `mapstructure:"workers" validate:"min=1,max=256"`
	FailFast bool `mapstructure:"fail_fast"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("rules.file", "~/.config/tally/tally.rules")
	v.SetDefault("rules.mode", "first_match")
	v.SetDefault("database.path", "~/.local/share/tally/tally.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("run.workers", runtime.NumCPU())
}

// Load decodes and validates v's settings. Relative paths are resolved
// against the directory of the config file in use.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	if err := newValidator().Struct(&s); err != nil {
		return nil, validationError(err)
	}

	dir := ""
	if used := v.ConfigFileUsed(); used != "" {
		dir = filepath.Dir(used)
	}
	s.Rules.File = ResolvePath(dir, s.Rules.File)
	s.Rules.BaselineFile = ResolvePath(dir, s.Rules.BaselineFile)
	s.Rules.ViewsFile = ResolvePath(dir, s.Rules.ViewsFile)
	s.Database.Path = ResolvePath(dir, s.Database.Path)
	for i := range s.DataSources {
		s.DataSources[i].File = ResolvePath(dir, s.DataSources[i].File)
	}

	return &s, nil
}

// EngineOptions returns the matching options the settings describe.
func (s *Settings) EngineOptions() (engine.Options, error) {
	mode, err := engine.ParseMode(s.Rules.Mode)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{Mode: mode, HomeLocations: s.HomeLocations}, nil
}

// ColumnSpec returns the CSV layout for statement files.
func (c CSVSettings) ColumnSpec() ingest.ColumnSpec {
	spec := ingest.ColumnSpec{
		DateFormat:   c.DateFormat,
		DecimalComma: c.DecimalComma,
		Negate:       c.Negate,
		Abs:          c.Abs,
	}
	if c.Delimiter != "" {
		spec.Delimiter = []rune(c.Delimiter)[0]
	}
	return spec
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// validationError reports every invalid key by its config path, e.g.
// "logging.level".
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := strings.TrimPrefix(fe.Namespace(), "Settings.")
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s fails %s=%s (got %v)", key, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			problems = append(problems, fmt.Sprintf("%s fails %s", key, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", common.ErrInvalidConfig, strings.Join(problems, "; "))
}
