// Package rdao is the public API of the static concurrency-defect engine.
//
// See doc.go for detailed documentation and examples.
package rdao

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/kolkov/rdao/internal/rdao/config"
	"github.com/kolkov/rdao/internal/rdao/engine"
	"github.com/kolkov/rdao/internal/rdao/finding"
	"github.com/kolkov/rdao/internal/rdao/ir"
)

// Program is one IR analysis unit.
type Program = ir.Program

// Report is the merged, sorted result of one analysis run.
type Report = finding.Report

// Finding is one reported defect.
type Finding = finding.Finding

// Class is the defect class of a finding.
type Class = finding.Class

// Severity ranks findings.
type Severity = finding.Severity

// Config is the engine configuration.
type Config = config.Config

// Result is the outcome of one program of a batch.
type Result = engine.Result

// IllFormedTraceError reports a structural defect in the input program. Use
// errors.As to inspect it.
type IllFormedTraceError = ir.IllFormedTraceError

// ErrIllFormedTrace matches every IllFormedTraceError via errors.Is.
var ErrIllFormedTrace = ir.ErrIllFormedTrace

// Defect classes, in report order.
const (
	ClassRace            = finding.ClassRace
	ClassDeadlock        = finding.ClassDeadlock
	ClassAtomicity       = finding.ClassAtomicity
	ClassOrder           = finding.ClassOrder
	ClassUnsafeRecursion = finding.ClassUnsafeRecursion
)

// Severities.
const (
	SeverityLow      = finding.SeverityLow
	SeverityMedium   = finding.SeverityMedium
	SeverityHigh     = finding.SeverityHigh
	SeverityCritical = finding.SeverityCritical
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Load reads every IR document of the YAML or JSON file at path.
//
// Programs without a name are named after the file.
func Load(path string) ([]*Program, error) { return ir.LoadFile(path) }

// Decode reads every IR document from r.
func Decode(r io.Reader) ([]*Program, error) { return ir.Decode(r) }

// Analyze runs every detector on p with the default configuration.
//
// Parameters:
//   - p: the program to analyze
//
// Returns:
//   - the report; Report.Blocking tells whether it should fail a build
//   - an error wrapping *IllFormedTraceError when p is structurally invalid
//
// Thread Safety: Safe to call concurrently; runs share no state.
func Analyze(p *Program) (*Report, error) {
	return AnalyzeWith(p, config.Default(), nil)
}

// AnalyzeWith is Analyze with an explicit configuration and logger. A nil
// logger discards logs.
func AnalyzeWith(p *Program, cfg *Config, logger logrus.FieldLogger) (*Report, error) {
	return engine.New(engine.FromConfig(cfg, logger)).Analyze(p)
}

// AnalyzeBatch analyzes independent programs concurrently, at most
// cfg.Analysis.Workers at a time. Results come back in input order; an
// ill-formed program fails only its own result.
func AnalyzeBatch(ctx context.Context, progs []*Program, cfg *Config, logger logrus.FieldLogger) ([]Result, error) {
	return engine.New(engine.FromConfig(cfg, logger)).AnalyzeBatch(ctx, progs)
}
