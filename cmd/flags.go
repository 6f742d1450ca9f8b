package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// mustFlag reads a flag defined in init(). A lookup error means the flag was
// never defined, which is a programming bug.
func mustFlag[T any](name string, get func(string) (T, error)) T {
	val, err := get(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return mustFlag(name, cmd.Flags().GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return mustFlag(name, cmd.Flags().GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return mustFlag(name, cmd.Flags().GetString)
}

func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	return mustFlag(name, cmd.Flags().GetFloat64)
}

func mustGetStringSlice(cmd *cobra.Command, name string) []string {
	return mustFlag(name, cmd.Flags().GetStringSlice)
}
