package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Satyacharanv/CodeConversionAI/internal/client"
	"github.com/Satyacharanv/CodeConversionAI/internal/workspace"
)

var (
	migrateLang string
	migrateFrom string
	migrateTo   string
	migrateOut  string
	migrateWait bool
	noProgress  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <path>",
	Short: "Migrate a file or project directory",
	Long: `Upload a source file, a zip archive or a project directory and migrate it.

Directories are zipped before upload. The migration runs in the background
on the server; progress is shown until it finishes. Press Ctrl+C to leave
it running and check later with 'codeconvert jobs'.

Examples:
  codeconvert migrate App.java --lang java --from 8 --to 17
  codeconvert migrate ./legacy-service --lang java --from 8 --to 21 --out ./migrated
  codeconvert migrate project.zip --lang python --from 2.7 --to 3.12 --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVarP(&migrateLang, "lang", "l", "", "source language (e.g. java)")
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "current version")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "target version")
	migrateCmd.Flags().StringVarP(&migrateOut, "out", "o", "", "download the project zip into this directory")
	migrateCmd.Flags().BoolVar(&migrateWait, "wait", false, "block on a single request instead of following a background job")
	migrateCmd.Flags().BoolVar(&noProgress, "no-progress", false, "print plain status lines instead of the progress bar")
	_ = migrateCmd.MarkFlagRequired("lang")
	_ = migrateCmd.MarkFlagRequired("from")
	_ = migrateCmd.MarkFlagRequired("to")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	name, content, cleanup, err := openUpload(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	params := client.Params{Language: migrateLang, FromVersion: migrateFrom, ToVersion: migrateTo}

	if migrateWait {
		fmt.Printf("Migrating %s (%s %s -> %s)...\n", name, migrateLang, migrateFrom, migrateTo)
		resp, err := apiClient.Migrate(ctx, name, content, params)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		printResponse(resp)
		return saveProjectZip(ctx, resp)
	}

	job, err := apiClient.MigrateAsync(ctx, name, content, params)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Printf("Started job %s for %s\n", job.ID, name)

	interactive := !noProgress && term.IsTerminal(int(os.Stdout.Fd()))

	var final *client.Job
	if interactive {
		final, err = RunJobProgress(apiClient, job)
	} else {
		final, err = followJob(ctx, job.ID)
	}
	if err != nil {
		return err
	}
	if final == nil || final.Result == nil {
		return nil
	}
	if !interactive {
		printResponse(final.Result)
	}
	return saveProjectZip(ctx, final.Result)
}

// openUpload returns the upload name and content for path. Directories are
// packed into a temporary zip named after the directory.
func openUpload(path string) (string, io.Reader, func(), error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		f, err := os.Open(path)
		if err != nil {
			return "", nil, nil, fmt.Errorf("open %s: %w", path, err)
		}
		return filepath.Base(path), f, func() { f.Close() }, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, nil, err
	}
	tmpDir, err := os.MkdirTemp("", "codeconvert-*")
	if err != nil {
		return "", nil, nil, fmt.Errorf("create temp dir: %w", err)
	}
	name := filepath.Base(abs) + ".zip"
	zipPath := filepath.Join(tmpDir, name)
	if err := workspace.NewPackager(nil).Pack(abs, zipPath); err != nil {
		os.RemoveAll(tmpDir)
		return "", nil, nil, fmt.Errorf("zip %s: %w", path, err)
	}

	f, err := os.Open(zipPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		return "", nil, nil, err
	}
	if verbose {
		if st, err := f.Stat(); err == nil {
			fmt.Printf("Packed %s (%d bytes)\n", name, st.Size())
		}
	}
	return name, f, func() {
		f.Close()
		os.RemoveAll(tmpDir)
	}, nil
}

// followJob prints one line per job update. Used when stdout is not a terminal.
func followJob(ctx context.Context, id string) (*client.Job, error) {
	last, err := apiClient.WatchJob(ctx, id, func(job *client.Job) error {
		line := fmt.Sprintf("[%s]", job.Status)
		if job.Phase != "" {
			line += " " + job.Phase
		}
		if job.Total > 0 {
			line += fmt.Sprintf(" %d/%d files", job.Progress, job.Total)
		}
		if job.CurrentFile != "" {
			line += " " + job.CurrentFile
		}
		fmt.Println(line)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("watch job: %w", err)
	}
	if last.Status == "failed" {
		if last.Error != nil {
			return last, fmt.Errorf("job failed: %s", *last.Error)
		}
		return last, fmt.Errorf("job failed with unknown error")
	}
	return last, nil
}

func printResponse(resp *client.Response) {
	fmt.Printf("\nSummary:\n%s\n", strings.TrimSpace(resp.Summary))

	if len(resp.Files) > 0 {
		fmt.Printf("\nFiles (%d):\n", len(resp.Files))
		for _, f := range resp.Files {
			mark := " "
			if f.Migrated {
				mark = "*"
			}
			fmt.Printf("  %s %-40s %s\n", mark, f.Path, f.Summary)
		}
	}

	if verbose {
		fmt.Println("\nDownload links:")
		for _, l := range fileLinks(resp) {
			fmt.Printf("  %s%s\n", apiClient.BaseURL(), l)
		}
	}
	fmt.Printf("\nProject zip: %s%s\n", apiClient.BaseURL(), resp.ProjectZipLink)
}

// fileLinks returns the job-scoped link of every file, falling back to the
// unscoped links when the server sends none.
func fileLinks(resp *client.Response) []string {
	links := make([]string, 0, len(resp.Files))
	for _, f := range resp.Files {
		if f.DownloadLink != "" {
			links = append(links, f.DownloadLink)
		}
	}
	if len(links) == 0 {
		return resp.DownloadLinks
	}
	return links
}

// saveProjectZip downloads the project archive when --out is set.
func saveProjectZip(ctx context.Context, resp *client.Response) error {
	if migrateOut == "" {
		return nil
	}
	if err := os.MkdirAll(migrateOut, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	name := archiveName(resp.ProjectZipLink)
	dest := filepath.Join(migrateOut, name)
	n, err := downloadTo(ctx, resp.ProjectZipLink, dest)
	if err != nil {
		return err
	}
	fmt.Printf("Saved %s (%d bytes)\n", dest, n)
	return nil
}

// archiveName derives the local file name from a project zip link.
func archiveName(link string) string {
	name := strings.TrimPrefix(link, "/api/download_project_zip/")
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		name = "project"
	}
	return name + ".zip"
}
