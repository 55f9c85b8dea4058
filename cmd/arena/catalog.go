package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-arena/internal/domain"
)

func catalogCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the failure mode, intent, and rating vocabularies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat := domain.BuildCatalog()
			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cat)
			case "text":
				return writeCatalogText(cmd.OutOrStdout(), cat)
			default:
				return fmt.Errorf("unknown format %q (want text or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json)")
	return cmd
}

func writeCatalogText(w io.Writer, cat domain.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FAILURE MODE\tDESCRIPTION")
	for _, fm := range cat.FailureModes {
		fmt.Fprintf(tw, "%s\t%s\n", fm.ID, fm.Description)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "INTENT\tSUB-CATEGORIES")
	for _, in := range cat.Intents {
		fmt.Fprintf(tw, "%s\t%s\n", in.ID, strings.Join(in.SubCategories, ", "))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TRACK\tLABEL")
	for _, t := range cat.Tracks {
		fmt.Fprintf(tw, "%s\t%s\n", t.ID, t.Label)
	}
	return tw.Flush()
}
