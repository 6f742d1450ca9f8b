package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-attendance/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and environment
overrides have been applied. The auth token is masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the runtime-tunable settings",
	Long: `Change analysis thresholds, sampling and the IP whitelist and write them to
the config file. A running server picks the change up from the file.

Example:
  face-attendance config set --threshold-verify 0.55 --interval 0.5
  face-attendance config set --whitelist 10.0.0.5,10.0.0.6`,
	Args: cobra.NoArgs,
	RunE: runConfigSet,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd)

	configSetCmd.Flags().Float64("threshold-verify", 0, "Minimum similarity for a match")
	configSetCmd.Flags().Float64("threshold-cluster", 0, "Minimum similarity to join a video cluster")
	configSetCmd.Flags().Float64("interval", 0, "Seconds between sampled video frames")
	configSetCmd.Flags().Int("min-samples", 0, "Minimum sightings for a video cluster to count")
	configSetCmd.Flags().StringSlice("whitelist", nil, "Client IPs allowed to call the API (empty string clears)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	shown := cfg.Clone()
	if shown.Auth.Token != "" {
		shown.Auth.Token = "********"
	}

	out, err := yaml.Marshal(shown)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	headColor.Printf("# %s\n", configPath)
	fmt.Print(string(out))
	return nil
}

// updateFromFlags builds a partial update from the flags that were set.
func updateFromFlags(cmd *cobra.Command) config.Update {
	var u config.Update
	flags := cmd.Flags()
	if flags.Changed("threshold-verify") {
		v := mustGetFloat64(cmd, "threshold-verify")
		u.ThresholdVerify = &v
	}
	if flags.Changed("threshold-cluster") {
		v := mustGetFloat64(cmd, "threshold-cluster")
		u.ThresholdCluster = &v
	}
	if flags.Changed("interval") {
		v := mustGetFloat64(cmd, "interval")
		u.VideoSampleInterval = &v
	}
	if flags.Changed("min-samples") {
		v := mustGetInt(cmd, "min-samples")
		u.MinClusterSamples = &v
	}
	if flags.Changed("whitelist") {
		ips := []string{}
		for _, ip := range mustGetStringSlice(cmd, "whitelist") {
			if ip != "" {
				ips = append(ips, ip)
			}
		}
		u.IPWhitelist = ips
	}
	return u
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	u := updateFromFlags(cmd)
	if u.IsEmpty() {
		return errors.New("nothing to change: pass at least one setting flag")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	next, err := config.NewHolder(cfg, configPath).Update(u)
	if err != nil {
		return err
	}

	okColor.Printf("Updated %s\n", configPath)
	fmt.Printf("  threshold_verify:      %v\n", next.Analysis.ThresholdVerify)
	fmt.Printf("  threshold_cluster:     %v\n", next.Analysis.ThresholdCluster)
	fmt.Printf("  video_sample_interval: %v\n", next.Analysis.VideoSampleInterval)
	fmt.Printf("  min_cluster_samples:   %d\n", next.Analysis.MinClusterSamples)
	fmt.Printf("  ip_whitelist:          %v\n", next.Auth.IPWhitelist)
	return nil
}
