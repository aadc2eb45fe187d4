package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/adlfs/internal/fsys"
)

// defaultJobs bounds concurrent metadata calls for multi-path commands.
const defaultJobs = 4

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls <path>",
		Short: "List a directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runLs,
	}

	cmd.Flags().BoolP("recursive", "r", false, "list the whole subtree")

	return cmd
}

func newGlobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "glob <pattern>",
		Short: "Print paths matching a shell pattern (*, ?, [...], {a,b}, **)",
		Args:  cobra.ExactArgs(1),
		RunE:  runGlob,
	}
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Write a file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  runCat,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> <remote-path>",
		Short: "Upload a file, replacing any existing one",
		Args:  cobra.ExactArgs(2),
		RunE:  runPut,
	}
}

func newSizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "size <path>...",
		Short: "Print file sizes in bytes",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSize,
	}

	cmd.Flags().IntP("jobs", "j", defaultJobs, "concurrent requests")

	return cmd
}

func newUkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ukey <path>",
		Short: "Print a key that changes whenever the file changes",
		Args:  cobra.ExactArgs(1),
		RunE:  runUkey,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or directory metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	fs, err := openAdapter(ctx, args[0])
	if err != nil {
		return err
	}
	defer fs.Close()

	entries, err := fs.List(ctx, args[0], recursive)
	if err != nil {
		return fmt.Errorf("listing %q: %w", args[0], err)
	}

	out := cmd.OutOrStdout()

	if flagJSON {
		items := make([]entryJSON, 0, len(entries))
		for _, e := range entries {
			items = append(items, toEntryJSON(e))
		}

		return printJSON(out, items)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		size := formatSize(e.Size)
		if e.IsDir {
			size = "-"
		}

		rows = append(rows, []string{size, formatTime(e.ModTime), displayName(e)})
	}

	printTable(out, []string{"SIZE", "MODIFIED", "NAME"}, rows)

	return nil
}

func runGlob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	fs, err := openAdapter(ctx, args[0])
	if err != nil {
		return err
	}
	defer fs.Close()

	matches, err := fs.Glob(ctx, args[0])
	if err != nil {
		return fmt.Errorf("glob %q: %w", args[0], err)
	}

	out := cmd.OutOrStdout()

	if flagJSON {
		if matches == nil {
			matches = []string{}
		}

		return printJSON(out, matches)
	}

	for _, m := range matches {
		fmt.Fprintln(out, m)
	}

	return nil
}

func runCat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	fs, err := openAdapter(ctx, args[0])
	if err != nil {
		return err
	}
	defer fs.Close()

	f, err := fs.Open(ctx, args[0], fsys.ModeRead)
	if err != nil {
		return fmt.Errorf("opening %q: %w", args[0], err)
	}
	defer f.Close()

	if _, err := io.Copy(cmd.OutOrStdout(), f); err != nil {
		return fmt.Errorf("reading %q: %w", args[0], err)
	}

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	localPath, remotePath := args[0], args[1]

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening local file: %w", err)
	}
	defer src.Close()

	fs, err := openAdapter(ctx, remotePath)
	if err != nil {
		return err
	}
	defer fs.Close()

	dst, err := fs.Open(ctx, remotePath, fsys.ModeWrite)
	if err != nil {
		return fmt.Errorf("opening %q: %w", remotePath, err)
	}

	// A failed copy never reaches Close, so nothing partial is committed.
	n, err := io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", localPath, err)
	}

	if err := dst.Close(); err != nil {
		return fmt.Errorf("uploading %q: %w", remotePath, err)
	}

	statusf("Uploaded %s -> %s (%s)\n", localPath, remotePath, formatSize(n))

	return nil
}

// sizeResult is the JSON output schema for one size lookup.
type sizeResult struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

func runSize(cmd *cobra.Command, args []string) error {
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return err
	}

	if jobs < 1 {
		return errors.New("--jobs must be at least 1")
	}

	fs, err := openAdapter(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer fs.Close()

	results := make([]sizeResult, len(args))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(jobs)

	for i, path := range args {
		g.Go(func() error {
			n, err := fs.Size(ctx, path)
			if err != nil {
				return fmt.Errorf("size of %q: %w", path, err)
			}

			results[i] = sizeResult{Path: path, Size: n}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	buildLogger().Debug("sizes fetched", slog.Int("paths", len(args)), slog.Int("jobs", jobs))

	out := cmd.OutOrStdout()

	if flagJSON {
		return printJSON(out, results)
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{strconv.FormatInt(r.Size, 10), r.Path})
	}

	printTable(out, []string{"SIZE", "PATH"}, rows)

	return nil
}

func runUkey(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	fs, err := openAdapter(ctx, args[0])
	if err != nil {
		return err
	}
	defer fs.Close()

	key, err := fs.UniqueKey(ctx, args[0])
	if err != nil {
		return fmt.Errorf("ukey of %q: %w", args[0], err)
	}

	out := cmd.OutOrStdout()

	if flagJSON {
		return printJSON(out, map[string]string{"path": args[0], "ukey": key})
	}

	fmt.Fprintln(out, key)

	return nil
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	fs, err := openAdapter(ctx, args[0])
	if err != nil {
		return err
	}
	defer fs.Close()

	e, err := fs.Info(ctx, args[0])
	if err != nil {
		return fmt.Errorf("stat %q: %w", args[0], err)
	}

	out := cmd.OutOrStdout()

	if flagJSON {
		return printJSON(out, toEntryJSON(e))
	}

	kind := "file"
	if e.IsDir {
		kind = "directory"
	}

	fmt.Fprintf(out, "Path:     %s\n", e.Path)
	fmt.Fprintf(out, "Type:     %s\n", kind)
	fmt.Fprintf(out, "Size:     %d (%s)\n", e.Size, formatSize(e.Size))
	fmt.Fprintf(out, "Modified: %s\n", formatTime(e.ModTime))
	fmt.Fprintf(out, "Key:      %s\n", fsys.UniqueKey(e.ModTime))

	return nil
}
