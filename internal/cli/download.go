package cli

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"
)

var (
	downloadJob    string
	downloadOutput string
)

var downloadCmd = &cobra.Command{
	Use:   "download <link-or-path>",
	Short: "Download a migrated file or project zip",
	Long: `Download a file from a download link or a project zip link.

Examples:
  codeconvert download /api/download/src/App.java --job 3f2a...
  codeconvert download src/App.java -o App.java
  codeconvert download "/api/download_project_zip/legacy?job=3f2a..."`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVar(&downloadJob, "job", "", "job the file belongs to")
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "output file (default: base name of the link)")
}

func runDownload(cmd *cobra.Command, args []string) error {
	link := args[0]
	if !strings.HasPrefix(link, "/api/") {
		link = "/api/download/" + strings.TrimPrefix(link, "/")
	}
	if downloadJob != "" && !strings.Contains(link, "?") {
		link += "?job=" + downloadJob
	}

	dest := downloadOutput
	if dest == "" {
		if strings.HasPrefix(link, "/api/download_project_zip/") {
			dest = archiveName(link)
		} else {
			p := link
			if i := strings.IndexByte(p, '?'); i >= 0 {
				p = p[:i]
			}
			dest = path.Base(p)
		}
	}

	n, err := downloadTo(context.Background(), link, dest)
	if err != nil {
		return err
	}
	fmt.Printf("Saved %s (%d bytes)\n", dest, n)
	return nil
}

// downloadTo fetches link into dest, removing a partial file on failure.
func downloadTo(ctx context.Context, link, dest string) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	n, err := apiClient.Download(ctx, link, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("download %s: %w", link, err)
	}
	return n, nil
}
