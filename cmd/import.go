package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ddi-catalog/internal/catalog"
	"github.com/sells-group/ddi-catalog/internal/ddi"
	"github.com/sells-group/ddi-catalog/internal/fetcher"
	"github.com/sells-group/ddi-catalog/internal/importer"
	"github.com/sells-group/ddi-catalog/internal/model"
)

// -- import-xml --

var importXMLCmd = &cobra.Command{
	Use:   "import-xml [file.xml|archive.zip ...]",
	Short: "Import variables from DDI-Codebook XML files",
	Long:  "Parses DDI-Codebook documents (plain files, ZIP archives, or --url downloads), then reconciles their variables into the catalog.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		urls, _ := cmd.Flags().GetStringSlice("url")
		if len(args) == 0 && len(urls) == 0 {
			return eris.New("import-xml: give at least one file or --url")
		}

		workDir, err := os.MkdirTemp("", "ddi-import-*")
		if err != nil {
			return eris.Wrap(err, "import-xml: create work dir")
		}
		defer os.RemoveAll(workDir) //nolint:errcheck

		paths, err := collectXMLPaths(ctx, args, urls, workDir)
		if err != nil {
			return err
		}

		docs, problems, err := ddi.NewParser(cfg.Import.XMLWorkers).ParseFiles(ctx, paths)
		if err != nil {
			return err
		}
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, p)
		}

		return importRows(ctx, sourceLabel("xml", args, urls), ddi.Rows(docs), problems)
	},
}

// collectXMLPaths expands ZIP archives and downloads URLs into workDir.
func collectXMLPaths(ctx context.Context, args, urls []string, workDir string) ([]string, error) {
	var paths []string
	args = append([]string(nil), args...)

	if len(urls) > 0 {
		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:   cfg.Fetch.UserAgent,
			Timeout:     time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries:  cfg.Fetch.MaxRetries,
			PerHostRate: cfg.Fetch.PerHostRate,
		})
		for i, raw := range urls {
			dest := filepath.Join(workDir, fmt.Sprintf("%03d-%s", i, downloadName(raw)))
			n, err := f.DownloadToFile(ctx, raw, dest)
			if err != nil {
				return nil, eris.Wrapf(err, "import-xml: download %s", raw)
			}
			zap.L().Info("downloaded", zap.String("url", raw), zap.Int64("bytes", n))
			args = append(args, dest)
		}
	}

	for i, p := range args {
		if !strings.EqualFold(filepath.Ext(p), ".zip") {
			paths = append(paths, p)
			continue
		}
		extracted, err := fetcher.ExtractZIP(p, filepath.Join(workDir, fmt.Sprintf("zip-%03d", i)), ".xml")
		if err != nil {
			return nil, eris.Wrapf(err, "import-xml: extract %s", p)
		}
		paths = append(paths, extracted...)
	}
	return paths, nil
}

// downloadName picks a local file name for a URL, keeping a .zip extension
// so archives are expanded.
func downloadName(raw string) string {
	u, err := url.Parse(raw)
	if err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return "download.xml"
}

// -- import-variables --

var importVariablesCmd = &cobra.Command{
	Use:   "import-variables <file.csv>",
	Short: "Import variables from a delimited file",
	Long:  "Reads a file with the columns doi, variable_name, variable_label, question_text, category_label, universe, notes and reconciles its rows into the catalog.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "import-variables: open file")
		}
		defer f.Close() //nolint:errcheck

		rows, err := catalog.ReadVariables(ctx, f, delimiterFlag(cmd))
		if err != nil {
			return err
		}
		return importRows(ctx, "csv:"+filepath.Base(args[0]), rows, nil)
	},
}

// -- import-surveys --

var importSurveysCmd = &cobra.Command{
	Use:   "import-surveys <file.csv|file.xlsx>",
	Short: "Import a survey catalog",
	Long:  "Creates distributors, collections, subcollections and surveys from a catalog file. The whole file is imported in one transaction.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		records, err := catalog.ReadSurveyFile(ctx, args[0], delimiterFlag(cmd))
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := catalog.New(st, nil).ImportSurveys(ctx, records)
		if err != nil {
			return err
		}
		fmt.Printf("Surveys created: %d, unchanged: %d\n", res.Created, res.Skipped)
		return nil
	},
}

func delimiterFlag(cmd *cobra.Command) rune {
	d, _ := cmd.Flags().GetString("delimiter")
	for _, r := range d {
		return r
	}
	return cfg.Import.DelimiterRune()
}

// importRows runs the importer and records the run. parseProblems are file
// level errors that happened before import; they make the run partial.
func importRows(ctx context.Context, source string, rows []model.Row, parseProblems []string) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	sync, err := initSearch(st)
	if err != nil {
		return err
	}

	run, err := st.StartImportRun(ctx, source)
	if err != nil {
		return err
	}

	var indexer importer.Indexer
	if sync != nil {
		indexer = sync
	}
	res, importErr := importer.New(st, indexer, cfg.Import.BatchSize).Import(ctx, rows)

	finishRun(run, res, importErr, parseProblems)
	if err := st.CompleteImportRun(context.WithoutCancel(ctx), run); err != nil {
		zap.L().Error("failed to record import run", zap.String("run_id", run.ID), zap.Error(err))
	}

	printImportResult(os.Stdout, run)
	if run.Status == model.ImportStatusComplete {
		return nil
	}
	if importErr != nil {
		return importErr
	}
	return eris.Errorf("import finished with %d rejected file(s)", len(parseProblems))
}

// finishRun sets the status, counts and error text of run.
func finishRun(run *model.ImportRun, res model.ImportResult, importErr error, parseProblems []string) {
	run.Result = res

	var messages []string
	messages = append(messages, parseProblems...)
	if importErr != nil {
		messages = append(messages, importErr.Error())
	}
	run.Error = strings.Join(messages, "\n")

	var aggregate *importer.ImportError
	switch {
	case len(messages) == 0:
		run.Status = model.ImportStatusComplete
	case importErr != nil && !errors.As(importErr, &aggregate):
		run.Status = model.ImportStatusFailed
	case res.Rows > 0:
		run.Status = model.ImportStatusPartial
	default:
		run.Status = model.ImportStatusFailed
	}
}

func printImportResult(w io.Writer, run *model.ImportRun) {
	_, _ = fmt.Fprintf(w, "Import %s: %s\n", truncateID(run.ID), run.Status)
	_, _ = fmt.Fprintf(w, "  rows imported:     %d\n", run.Result.Rows)
	_, _ = fmt.Fprintf(w, "  new variables:     %d\n", run.Result.NewVariables)
	_, _ = fmt.Fprintf(w, "  new bindings:      %d\n", run.Result.NewBindings)
	_, _ = fmt.Fprintf(w, "  updated bindings:  %d\n", run.Result.UpdatedBindings)
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "Errors:\n%s\n", run.Error)
	}
}

func sourceLabel(kind string, args, urls []string) string {
	var names []string
	for _, a := range args {
		names = append(names, filepath.Base(a))
	}
	names = append(names, urls...)
	label := kind + ":" + strings.Join(names, ",")
	if len(label) > 200 {
		label = label[:197] + "..."
	}
	return label
}

func init() {
	importXMLCmd.Flags().StringSlice("url", nil, "download DDI files (or ZIP archives) from these URLs")
	importVariablesCmd.Flags().String("delimiter", "", "field delimiter (default from import.delimiter)")
	importSurveysCmd.Flags().String("delimiter", "", "field delimiter for CSV catalogs (default from import.delimiter)")

	rootCmd.AddCommand(importXMLCmd)
	rootCmd.AddCommand(importVariablesCmd)
	rootCmd.AddCommand(importSurveysCmd)
}
