package cmd

import (
	"testing"

	"github.com/spf13/cobra"
)

func newConfigSetFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "set"}
	c.Flags().Float64("threshold-verify", 0, "")
	c.Flags().Float64("threshold-cluster", 0, "")
	c.Flags().Float64("interval", 0, "")
	c.Flags().Int("min-samples", 0, "")
	c.Flags().StringSlice("whitelist", nil, "")
	if err := c.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	return c
}

func TestUpdateFromFlags(t *testing.T) {
	u := updateFromFlags(newConfigSetFlags(t, "--threshold-verify", "0.55", "--min-samples", "2"))
	if u.ThresholdVerify == nil || *u.ThresholdVerify != 0.55 {
		t.Errorf("threshold not set: %+v", u)
	}
	if u.MinClusterSamples == nil || *u.MinClusterSamples != 2 {
		t.Errorf("min samples not set: %+v", u)
	}
	if u.ThresholdCluster != nil || u.VideoSampleInterval != nil || u.IPWhitelist != nil {
		t.Errorf("unset flags leaked into the update: %+v", u)
	}
}

func TestUpdateFromFlags_ClearWhitelist(t *testing.T) {
	u := updateFromFlags(newConfigSetFlags(t, "--whitelist", ""))
	if u.IPWhitelist == nil || len(u.IPWhitelist) != 0 {
		t.Errorf("expected an empty, non-nil whitelist, got %#v", u.IPWhitelist)
	}
	if u.IsEmpty() {
		t.Error("clearing the whitelist is a change")
	}
}

func TestUpdateFromFlags_Nothing(t *testing.T) {
	if u := updateFromFlags(newConfigSetFlags(t)); !u.IsEmpty() {
		t.Errorf("expected empty update, got %+v", u)
	}
}
