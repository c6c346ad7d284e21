package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/blacktop/xpostd/internal/media"
	"github.com/blacktop/xpostd/internal/orchestrator"
	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	filePath        string
	titleFlag       string
	descriptionFlag string
	platformsFlag   []string
	tagsFlag        []string
	dryRun          bool
)

func newPublishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a local media file to one or more platforms",
		Long: "publish stores the file like an upload to the API would, creates the post record, " +
			"and publishes it to each platform in the order given. The description can be " +
			"piped on stdin.",
		Args: cobra.NoArgs,
		RunE: runPublish,
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "", "Image or video to publish")
	cmd.Flags().StringVarP(&titleFlag, "title", "t", "", "Post title")
	cmd.Flags().StringVarP(&descriptionFlag, "description", "d", "", "Post description (read from stdin when omitted)")
	cmd.Flags().StringSliceVarP(&platformsFlag, "platform", "p", nil, "Platforms to publish to (facebook, twitter, instagram, youtube, mastodon, bluesky, or all)")
	cmd.Flags().StringSliceVar(&tagsFlag, "tag", nil, "YouTube tags")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and print actions without publishing")
	cmd.Flags().SortFlags = false
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func runPublish(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	title := strings.TrimSpace(titleFlag)
	if title == "" {
		return errors.New("title is required")
	}
	description, err := resolveDescription(cmd)
	if err != nil {
		return err
	}
	platforms, err := normalizePlatforms(platformsFlag)
	if err != nil {
		return err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stat media: %w", err)
	}
	blobs := media.New(media.Config{Dir: cfg.MediaDir, PublicBaseURL: cfg.PublicURL})
	mediaType, err := blobs.Validate(info.Name(), info.Size())
	if err != nil {
		return err
	}

	if dryRun {
		for _, p := range platforms {
			fmt.Fprintf(out, "[dry-run] would publish %s %q to %s\n", mediaType, title, p)
		}
		return nil
	}

	post, err := publishFile(ctx, blobs, xpost.Post{
		Title:       title,
		Description: description,
		Tags:        tagsFlag,
		Platforms:   platforms,
		CreatedBy:   currentUser(),
	})
	if err != nil {
		return err
	}
	return report(out, post)
}

func publishFile(ctx context.Context, blobs *media.Store, post xpost.Post) (xpost.Post, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return xpost.Post{}, fmt.Errorf("open media: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return xpost.Post{}, fmt.Errorf("stat media: %w", err)
	}

	asset, err := blobs.Save(ctx, info.Name(), info.Size(), file)
	if err != nil {
		return xpost.Post{}, err
	}
	post.MediaType = asset.Type
	post.MediaURL = asset.URL
	post.MediaPath = asset.Path

	posts, err := openStore(ctx, cfg)
	if err != nil {
		return xpost.Post{}, err
	}
	defer posts.Close()

	registry, _ := buildRegistry(cfg)
	return orchestrator.New(registry, posts).Publish(ctx, post)
}

func resolveDescription(cmd *cobra.Command) (string, error) {
	if d := strings.TrimSpace(descriptionFlag); d != "" {
		return d, nil
	}

	if file, ok := cmd.InOrStdin().(*os.File); ok && !term.IsTerminal(int(file.Fd())) {
		data, err := io.ReadAll(file)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if d := strings.TrimSpace(string(data)); d != "" {
			return d, nil
		}
	}
	return "", errors.New("description is required (use --description or pipe it on stdin)")
}

func normalizePlatforms(values []string) ([]string, error) {
	result := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, raw := range values {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if raw == "all" {
			return append([]string(nil), providerOrder...), nil
		}
		if !slices.Contains(providerOrder, raw) {
			return nil, fmt.Errorf("unsupported platform %q", raw)
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		result = append(result, raw)
	}
	if len(result) == 0 {
		return nil, errors.New("no platforms selected")
	}
	return result, nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// report prints one line per platform and returns the joined failures.
func report(out io.Writer, post xpost.Post) error {
	fmt.Fprintf(out, "post %s\n", post.ID)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tSTATUS\tDETAIL")

	var errs []error
	for _, p := range post.Platforms {
		r := post.PostStatus[p]
		switch {
		case r.Posted:
			detail := r.PostID
			if r.VideoURL != "" {
				detail = r.VideoURL
			}
			fmt.Fprintf(tw, "%s\tposted\t%s\n", p, detail)
		case r.NeedsReauthorization:
			fmt.Fprintf(tw, "%s\treauthorize\t%s\n", p, r.ErrorMessage)
			errs = append(errs, fmt.Errorf("%s: %s", p, r.ErrorMessage))
		default:
			fmt.Fprintf(tw, "%s\tfailed\t%s\n", p, r.ErrorMessage)
			errs = append(errs, fmt.Errorf("%s: %s", p, r.ErrorMessage))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return errors.Join(errs...)
}
