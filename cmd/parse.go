package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ddi-catalog/internal/ddi"
	"github.com/sells-group/ddi-catalog/internal/model"
)

// parsedDocument is the YAML dump of one parsed codebook.
type parsedDocument struct {
	File   string      `yaml:"file"`
	Survey string      `yaml:"survey"`
	Rows   []model.Row `yaml:"rows"`
}

var parseCmd = &cobra.Command{
	Use:   "parse <file.xml> [file.xml ...]",
	Short: "Print the rows DDI files would import, without touching the catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, problems, err := ddi.NewParser(cfg.Import.XMLWorkers).ParseFiles(cmd.Context(), args)
		if err != nil {
			return err
		}
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, p)
		}

		out := make([]parsedDocument, len(docs))
		for i, d := range docs {
			out[i] = parsedDocument{File: d.Name, Survey: d.SurveyRef, Rows: d.Rows}
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}
