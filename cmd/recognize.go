package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Take attendance from an image or a video",
}

var recognizeImageCmd = &cobra.Command{
	Use:   "image",
	Short: "Recognize every enrolled face in an image",
	Long: `Detect the faces in an image under the inputs directory and match each of
them against the enrolled staff. A staff member appears once per matching
face.

Example:
  face-attendance recognize image -p class/monday.jpg`,
	Args: cobra.NoArgs,
	RunE: runRecognizeImage,
}

var recognizeVideoCmd = &cobra.Command{
	Use:   "video",
	Short: "Work out who appears in a video",
	Long: `Sample frames of a video under the inputs directory, group the detected
faces into people and match every person seen often enough against the
enrolled staff. Each staff member is reported at most once.

Example:
  face-attendance recognize video -p lectures/2024-03-01.mp4 --interval 0.5`,
	Args: cobra.NoArgs,
	RunE: runRecognizeVideo,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
	recognizeCmd.AddCommand(recognizeImageCmd, recognizeVideoCmd)

	for _, c := range []*cobra.Command{recognizeImageCmd, recognizeVideoCmd} {
		c.Flags().StringP("path", "p", "", "File path relative to inputs")
		c.Flags().Bool("json", false, "Output as JSON")
		_ = c.MarkFlagRequired("path")
	}
	recognizeImageCmd.Flags().Float64("threshold", 0, "Override analysis.threshold_verify for this run")
	recognizeVideoCmd.Flags().Float64("threshold", 0, "Override analysis.threshold_verify for this run")
	recognizeVideoCmd.Flags().Float64("interval", 0, "Override analysis.video_sample_interval (seconds)")
	recognizeVideoCmd.Flags().Int("min-samples", 0, "Override analysis.min_cluster_samples")
}

// analysisOverrides applies the per-run analysis flags that were set.
func analysisOverrides(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("threshold") {
			cfg.Analysis.ThresholdVerify = mustGetFloat64(cmd, "threshold")
		}
		if flags.Lookup("interval") != nil && flags.Changed("interval") {
			cfg.Analysis.VideoSampleInterval = mustGetFloat64(cmd, "interval")
		}
		if flags.Lookup("min-samples") != nil && flags.Changed("min-samples") {
			cfg.Analysis.MinClusterSamples = mustGetInt(cmd, "min-samples")
		}
	}
}

func runRecognizeImage(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := openApp(ctx, analysisOverrides(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.resolver.RecognizeImage(ctx, mustGetString(cmd, "path"))
	if err != nil {
		return failure("recognize", err)
	}
	if mustGetBool(cmd, "json") {
		return printJSON(results)
	}
	printAttendees(results)
	return nil
}

func runRecognizeVideo(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := openApp(ctx, analysisOverrides(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	jsonOutput := mustGetBool(cmd, "json")
	var (
		bar      *progressbar.ProgressBar
		progress func(attendance.VideoProgress)
	)
	if !jsonOutput {
		progress = func(p attendance.VideoProgress) {
			if bar == nil {
				total := p.FrameCount
				if total <= 0 {
					total = -1 // unknown length: spinner
				}
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Analyzing video"),
					progressbar.OptionShowCount(),
					progressbar.OptionSetItsString("frames"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			_ = bar.Set(p.FrameIndex)
			bar.Describe(fmt.Sprintf("Analyzing video (%d faces, %d people)", p.FacesSeen, p.Clusters))
		}
	}

	start := time.Now()
	results, err := a.resolver.AnalyzeVideo(ctx, mustGetString(cmd, "path"), progress)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return failure("video analysis", err)
	}
	if jsonOutput {
		return printJSON(results)
	}
	printAttendees(results)
	fmt.Printf("Analyzed in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
