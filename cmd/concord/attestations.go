package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/concord-cpg-engine/internal/attestation"
	"github.com/concord-cpg-engine/internal/config"
)

var (
	listSubject   string
	listGuideline string
	listLimit     int
	listOffset    int
)

var attestationsCmd = &cobra.Command{
	Use:     "attestations",
	Aliases: []string{"att"},
	Short:   "Manage stored attestations",
}

var attestationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored attestations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (listSubject == "") != (listGuideline == "") {
			return fmt.Errorf("--subject and --guideline must be given together")
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		var list []*attestation.Attestation
		if listSubject != "" {
			list, err = store.ListForSubject(cmd.Context(), listSubject, listGuideline)
		} else {
			list, err = store.List(cmd.Context(), listLimit, listOffset)
		}
		if err != nil {
			return err
		}
		total, err := store.Count(cmd.Context())
		if err != nil {
			return err
		}
		return writeAttestations(cmd.OutOrStdout(), list, total)
	},
}

var attestationsExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export attestations as JSON",
	Long:  "Writes every stored attestation as JSON. Without a file, the export goes to the exports directory under the data directory.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			if err := config.EnsureDataDir(cfg.DataDir); err != nil {
				return fmt.Errorf("creating data directory: %w", err)
			}
			path = filepath.Join(config.ExportDir(cfg.DataDir),
				fmt.Sprintf("attestations-%s.json", time.Now().UTC().Format("20060102-150405")))
		}

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		if err := store.ExportJSON(cmd.Context(), f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported attestations to %s\n", path)
		return nil
	},
}

var attestationsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import attestations from a JSON export",
	Long:  "Imports attestations; ones already stored for the same subject, guideline and variable are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening import file: %w", err)
		}
		defer f.Close()

		imported, skipped, err := store.ImportJSON(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d attestations, skipped %d\n", imported, skipped)
		return nil
	},
}

var attestationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete attestations by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		for _, id := range args {
			if err := store.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("deleting %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
		return nil
	},
}

func init() {
	f := attestationsListCmd.Flags()
	f.StringVar(&listSubject, "subject", "", "only this subject (requires --guideline)")
	f.StringVar(&listGuideline, "guideline", "", "only this guideline identifier (requires --subject)")
	f.IntVar(&listLimit, "limit", 50, "maximum rows")
	f.IntVar(&listOffset, "offset", 0, "rows to skip")

	attestationsCmd.AddCommand(attestationsListCmd, attestationsExportCmd, attestationsImportCmd, attestationsDeleteCmd)
	rootCmd.AddCommand(attestationsCmd)
}

func writeAttestations(w io.Writer, list []*attestation.Attestation, total int64) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUBJECT\tGUIDELINE\tVARIABLE\tVALUE\tBY\tUPDATED")
	for _, a := range list {
		value := string(a.Value)
		if a.Unit != "" {
			value += " " + a.Unit
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.SubjectID, a.Guideline, a.VariableID, value, a.AttestedBy, humanize.Time(a.UpdatedAt))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d attestations\n", len(list), total)
	return err
}
