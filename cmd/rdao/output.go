package main

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/kolkov/rdao/internal/rdao/config"
	"github.com/kolkov/rdao/rdao"
)

// writeReports writes reports in the given format. JSON output is a single
// array; YAML output is one document per report.
func writeReports(w io.Writer, format string, reports []*rdao.Report) error {
	switch format {
	case config.FormatJSON:
		if reports == nil {
			reports = []*rdao.Report{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		for _, r := range reports {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return enc.Close()
	default:
		for _, r := range reports {
			r.Format(w)
		}
		return nil
	}
}
