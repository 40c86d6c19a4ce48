package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ddi-catalog/internal/ddi"
)

var deleteSurveyCmd = &cobra.Command{
	Use:   "delete-survey <doi>",
	Short: "Delete a survey, its bindings, and the variables left unused",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sync, err := initSearch(st)
		if err != nil {
			return err
		}

		res, err := newCatalog(st, sync).DeleteSurvey(ctx, strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %s (%s): %d bindings, %d variables, %d conceptual variables, %d categories\n",
			res.Survey.ExternalRef, res.Survey.Name, res.Bindings,
			res.Sweep.Variables, res.Sweep.Conceptuals, res.Sweep.Categories)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every survey, variable and category, and empty the search index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return eris.New("reset: refusing to wipe the catalog without --yes")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sync, err := initSearch(st)
		if err != nil {
			return err
		}

		removed, err := newCatalog(st, sync).Reset(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Catalog wiped, %d index documents deleted\n", removed)
		return nil
	},
}

var checkDuplicatesCmd = &cobra.Command{
	Use:   "check-duplicates <file.xml>",
	Short: "List the variables of a DDI file already bound to its survey",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		doc, err := ddi.NewParser(1).ParseFile(ctx, args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		names, err := newCatalog(st, nil).CheckDuplicates(ctx, doc)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		status := "no_duplicates"
		if len(names) > 0 {
			status = "exists"
		}
		return enc.Encode(struct {
			Status            string   `json:"status"`
			Survey            string   `json:"survey"`
			ExistingVariables []string `json:"existing_variables"`
		}{status, doc.SurveyRef, names})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog table sizes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c, err := newCatalog(st, nil).Counts(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Surveys:               %d\n", c.Surveys)
		fmt.Printf("Conceptual variables:  %d\n", c.Conceptuals)
		fmt.Printf("Represented variables: %d\n", c.Variables)
		fmt.Printf("Categories:            %d\n", c.Categories)
		fmt.Printf("Bindings:              %d (%d not indexed)\n", c.Bindings, c.Unindexed)
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "confirm the wipe")

	rootCmd.AddCommand(deleteSurveyCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(checkDuplicatesCmd)
	rootCmd.AddCommand(statsCmd)
}
