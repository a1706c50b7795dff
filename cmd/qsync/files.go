package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"quotesync/internal/files"
	"quotesync/internal/qsync"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage quote files",
}

var filesListCmd = &cobra.Command{
	Use:   "list QUOTE",
	Short: "List the files of a quote with their latest version and previews",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd.Context(), "FilesList")
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.Files().ListQuoteFiles(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if output != "table" {
			if list == nil {
				list = []files.QuoteFile{}
			}
			return encode(os.Stdout, output, list)
		}

		if len(list) == 0 {
			fmt.Printf("No files for quote %s\n", args[0])
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tTITLE\tTYPE\tSIZE\tPREVIEWS\tKEY")
		for _, f := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				f.ID, f.Kind, truncate(f.Title, 40), f.MimeType,
				humanize.IBytes(uint64(f.SizeBytes)), len(f.Previews), faint(f.StorageKey))
		}
		return tw.Flush()
	},
}

var filesAddCmd = &cobra.Command{
	Use:   "add QUOTE PATH",
	Short: "Upload a file to a quote",
	Long:  "Upload a file to a quote. With --file, the upload becomes a new version of that file.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		customer, _ := cmd.Flags().GetString("customer")
		subfolder, _ := cmd.Flags().GetString("subfolder")
		kind, _ := cmd.Flags().GetString("kind")
		title, _ := cmd.Flags().GetString("title")
		fileID, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}
		name := filepath.Base(args[1])

		a, err := newApp(cmd.Context(), "FilesAdd")
		if err != nil {
			return err
		}
		defer a.Close()

		req := files.UploadRequest{
			QuoteID:      args[0],
			Customer:     customer,
			Subfolder:    subfolder,
			Kind:         kind,
			Title:        title,
			OriginalName: name,
			Data:         data,
			ContentType:  qsync.DetectContentType(name),
		}

		if fileID != "" {
			v, err := a.Files().AddVersion(cmd.Context(), fileID, req)
			if err != nil {
				return err
			}
			printOK(fmt.Sprintf("Added version %s of file %s", v.ID, fileID))
			fmt.Printf("  %s %s\n", faint("key"), v.StorageKey)
			return nil
		}

		f, v, err := a.Files().RegisterUpload(cmd.Context(), req)
		if err != nil {
			return err
		}
		printOK(fmt.Sprintf("Added %s (%s) as file %s", name, humanize.IBytes(uint64(v.SizeBytes)), f.ID))
		fmt.Printf("  %s %s\n", faint("key"), v.StorageKey)
		return nil
	},
}

var filesDeleteCmd = &cobra.Command{
	Use:   "delete FILE_ID",
	Short: "Soft-delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "FilesDelete")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Files().Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		printOK(fmt.Sprintf("Deleted file %s", args[0]))
		return nil
	},
}

func init() {
	filesListCmd.Flags().StringP("output", "o", "table", "Output format (table, yaml, json)")

	filesAddCmd.Flags().String("customer", "", "Customer name used in the object key")
	filesAddCmd.Flags().String("subfolder", "", "Subfolder under the quote, e.g. drawings")
	filesAddCmd.Flags().String("kind", "", "File kind (derived from the subfolder when empty)")
	filesAddCmd.Flags().String("title", "", "Display title (the file name when empty)")
	filesAddCmd.Flags().String("file", "", "Existing file ID to add a version to")

	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesAddCmd)
	filesCmd.AddCommand(filesDeleteCmd)
	rootCmd.AddCommand(filesCmd)
}
