/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"

	"github.com/blacktop/xpostd/internal/config"
	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/spf13/cobra"
)

var (
	verboseFlag bool
	logFileFlag string

	cfg *config.Config
)

// Execute runs the root command.
func Execute() error {
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xpostd",
		Short: "Publish one media post to many social networks",
		Long: "xpostd accepts an image or video with a title and description and publishes it " +
			"to Facebook, Twitter/X, Instagram, YouTube, Mastodon, and Bluesky, recording the " +
			"outcome for every network.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		Example: `  xpostd serve --addr :8080
  xpostd publish --file ./reel.mp4 --title "Town hall" --platform instagram --platform youtube
  echo "Volunteers needed" | xpostd publish --file ./banner.png --title "Flood relief" --platform all`,
	}

	cmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "V", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "Also write logs to this file (rotated)")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newPublishCommand())
	cmd.AddCommand(newCompletionCommand())

	return cmd
}

func setup(cmd *cobra.Command, _ []string) error {
	// completion output must stay clean
	if cmd.Name() == "completion" || (cmd.Parent() != nil && cmd.Parent().Name() == "completion") {
		return nil
	}

	loaded, err := config.Load()
	if err != nil {
		return err
	}
	cfg = loaded

	logutil.SetLevel(cfg.LogLevel)
	if verboseFlag {
		logutil.SetVerbose(true)
	}
	if logFileFlag != "" {
		cfg.LogFile = logFileFlag
	}
	if cfg.LogFile != "" {
		closer := logutil.SetFile(cfg.LogFile)
		cobra.OnFinalize(func() { closer.Close() })
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
