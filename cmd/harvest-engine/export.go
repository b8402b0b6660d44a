// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/harvest-engine/internal/store"
	"github.com/pdiddy/harvest-engine/pkg/types"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the harvested index to CSV or JSON",
	Long: `Export writes every record in the local index, across all runs, to CSV
(UTF-8 with BOM, spreadsheet-friendly) or indented JSON. Output goes to
--out when given, stdout otherwise.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().String("format", "csv", "output format: csv or json")
	exportCmd.Flags().String("out", "", "output file (default: stdout)")
	exportCmd.Flags().String("data-dir", "data", "base directory for the index and manifests")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	outPath, _ := cmd.Flags().GetString("out")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if !cmd.Flags().Changed("data-dir") && viper.IsSet("store.data_dir") {
		dataDir = viper.GetString("store.data_dir")
	}

	if format != "csv" && format != "json" {
		return fmt.Errorf("unknown format %q (valid: csv, json)", format)
	}

	st, err := store.New(types.StoreConfig{DataDir: dataDir})
	if err != nil {
		return err
	}
	defer st.Close()

	var out io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	var n int
	switch format {
	case "csv":
		n, err = st.ExportCSV(out)
	case "json":
		n, err = st.ExportJSON(out)
	}
	if err != nil {
		return err
	}

	if outPath != "" {
		fmt.Fprintf(os.Stderr, "Exported %d record(s) to %s\n", n, outPath)
	} else {
		fmt.Fprintf(os.Stderr, "Exported %d record(s)\n", n)
	}
	return nil
}
