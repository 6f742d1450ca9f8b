package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	skipColor = color.New(color.FgHiBlack)
	headColor = color.New(color.FgCyan, color.Bold)
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// failure prints err with its kind and returns it for cobra.
func failure(op string, err error) error {
	failColor.Fprintf(os.Stderr, "%s failed (%s): %v\n", op, attendance.KindOf(err), err)
	return err
}

func printAttendees(results []attendance.MatchResult) {
	if len(results) == 0 {
		fmt.Println("No enrolled staff recognized.")
		return
	}
	headColor.Printf("%d attendee(s)\n", len(results))
	for _, r := range results {
		fmt.Printf("  %-12s %-30s %.4f\n", r.StaffID, r.Name, r.Similarity)
	}
}
