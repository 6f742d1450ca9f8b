package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/storage"
)

var staffCmd = &cobra.Command{
	Use:   "staff",
	Short: "Manage enrolled staff",
}

var staffRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Enroll a staff member from a reference photo",
	Long: `Enroll a staff member from the largest face in a photo stored under the
staff_images directory. Any earlier enrollment of the same staff ID is
replaced.

Example:
  face-attendance staff register -p alice.jpg -i E1001 -n "Alice Smith"
  face-attendance staff register -p ~/photos/alice.jpg --import -i E1001 -n "Alice Smith"`,
	Args: cobra.NoArgs,
	RunE: runStaffRegister,
}

var staffRegisterDirCmd = &cobra.Command{
	Use:   "register-dir [folder-path]",
	Short: "Enroll every photo of a folder",
	Long: `Enroll staff in bulk. Photos must be named <staffId>_<name>.<ext>, for
example E1001_Alice_Smith.jpg; underscores in the name become spaces.

Without a folder the staff_images directory itself is enrolled. A folder
elsewhere is copied into staff_images first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStaffRegisterDir,
}

var staffDeleteCmd = &cobra.Command{
	Use:   "delete <staff-id>",
	Short: "Remove every record of a staff member",
	Args:  cobra.ExactArgs(1),
	RunE:  runStaffDelete,
}

var staffListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled staff",
	Args:  cobra.NoArgs,
	RunE:  runStaffList,
}

var staffShowCmd = &cobra.Command{
	Use:   "show <staff-id>",
	Short: "Show the records of one staff member",
	Args:  cobra.ExactArgs(1),
	RunE:  runStaffShow,
}

func init() {
	rootCmd.AddCommand(staffCmd)
	staffCmd.AddCommand(staffRegisterCmd, staffRegisterDirCmd, staffDeleteCmd, staffListCmd, staffShowCmd)

	staffRegisterCmd.Flags().StringP("path", "p", "", "Photo path relative to staff_images")
	staffRegisterCmd.Flags().StringP("id", "i", "", "Staff ID")
	staffRegisterCmd.Flags().StringP("name", "n", "", "Staff name")
	staffRegisterCmd.Flags().Bool("import", false, "Treat --path as a local file and copy it into staff_images first")
	staffRegisterCmd.Flags().Bool("json", false, "Output as JSON")
	for _, name := range []string{"path", "id", "name"} {
		_ = staffRegisterCmd.MarkFlagRequired(name)
	}

	staffRegisterDirCmd.Flags().Int("workers", 0, "Concurrent face extractions (default 4)")
	staffRegisterDirCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")

	staffListCmd.Flags().String("name", "", "Only staff whose name contains this (case and diacritics insensitive)")
	staffListCmd.Flags().Bool("json", false, "Output as JSON")

	staffShowCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStaffRegister(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	path := mustGetString(cmd, "path")
	if mustGetBool(cmd, "import") {
		if path, err = importFile(a.storage, path); err != nil {
			return err
		}
	}

	result, err := a.registry.Register(ctx, path, mustGetString(cmd, "id"), mustGetString(cmd, "name"))
	if err != nil {
		return failure("register", err)
	}
	if mustGetBool(cmd, "json") {
		return printJSON(result)
	}

	okColor.Printf("Registered %s (%s)\n", result.Name, result.StaffID)
	fmt.Printf("  Record: %s\n", result.RecordID)
	if result.Replaced > 0 {
		fmt.Printf("  Replaced %d earlier record(s)\n", result.Replaced)
	}
	return nil
}

// importFile copies a local file into staff_images and returns its name there.
func importFile(m *storage.Manager, localPath string) (string, error) {
	f, err := os.Open(localPath) //nolint:gosec // path is from the command line
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	name := filepath.Base(localPath)
	if _, err := m.Save(storage.CategoryStaffImages, name, f); err != nil {
		return "", err
	}
	return name, nil
}

// parseEnrollmentName splits "<staffId>_<name>.<ext>" into its parts.
func parseEnrollmentName(file string) (staffID, name string, ok bool) {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	staffID, rest, found := strings.Cut(base, "_")
	if !found || staffID == "" {
		return "", "", false
	}
	name = strings.Join(strings.FieldsFunc(rest, func(r rune) bool { return r == '_' }), " ")
	if name == "" {
		return "", "", false
	}
	return staffID, name, true
}

var enrollableExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
}

// collectEnrollments lists the staff images to enroll, importing them from
// dir when it is not the staff_images directory.
func collectEnrollments(m *storage.Manager, dir string) ([]attendance.Enrollment, []string, error) {
	staffDir, err := m.Dir(storage.CategoryStaffImages)
	if err != nil {
		return nil, nil, err
	}

	var names []string
	importing := false
	if dir == "" || sameDir(dir, staffDir) {
		if names, err = m.List(storage.CategoryStaffImages); err != nil {
			return nil, nil, err
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot read folder %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() {
				names = append(names, e.Name())
			}
		}
		importing = true
	}

	var (
		entries []attendance.Enrollment
		ignored []string
	)
	for _, name := range names {
		if !enrollableExt[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		staffID, staffName, ok := parseEnrollmentName(name)
		if !ok {
			ignored = append(ignored, name)
			continue
		}
		if importing {
			if _, err := importFile(m, filepath.Join(dir, name)); err != nil {
				return nil, nil, err
			}
		}
		entries = append(entries, attendance.Enrollment{Path: name, StaffID: staffID, Name: staffName})
	}
	return entries, ignored, nil
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

func runStaffRegisterDir(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	entries, ignored, err := collectEnrollments(a.storage, dir)
	if err != nil {
		return err
	}
	for _, name := range ignored {
		skipColor.Printf("Ignoring %s: expected <staffId>_<name>.<ext>\n", name)
	}
	if len(entries) == 0 {
		fmt.Println("No staff photos found.")
		return nil
	}

	a.registry.Workers = mustGetInt(cmd, "workers")
	jsonOutput := mustGetBool(cmd, "json")

	var bar *progressbar.ProgressBar
	extracted := func() {}
	if !jsonOutput {
		bar = progressbar.NewOptions(len(entries),
			progressbar.OptionSetDescription("Enrolling staff"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
		extracted = func() { _ = bar.Add(1) }
	}

	start := time.Now()
	results, err := a.registry.RegisterBatchProgress(ctx, entries, extracted)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return failure("bulk registration", err)
	}
	if jsonOutput {
		return printJSON(results)
	}

	var succeeded, failed, skipped int
	for _, r := range results {
		switch r.Status {
		case attendance.StatusSuccess:
			succeeded++
		case attendance.StatusSkipped:
			skipped++
			skipColor.Printf("  skipped %s (%s): %s\n", r.StaffID, r.Name, r.Error)
		default:
			failed++
			failColor.Printf("  failed  %s (%s): %s\n", r.StaffID, r.Name, r.Error)
		}
	}
	fmt.Printf("\nEnrolled %d, failed %d, skipped %d in %s\n",
		succeeded, failed, skipped, time.Since(start).Round(time.Millisecond))
	return nil
}

func runStaffDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.registry.Delete(ctx, args[0])
	if err != nil {
		return failure("delete", err)
	}
	if n == 0 {
		return failure("delete", fmt.Errorf("%w: %s", attendance.ErrStaffNotFound, args[0]))
	}
	okColor.Printf("Deleted %d record(s) of %s\n", n, args[0])
	return nil
}

func runStaffList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	staff, err := a.registry.List(ctx, mustGetString(cmd, "name"))
	if err != nil {
		return failure("list", err)
	}
	if mustGetBool(cmd, "json") {
		return printJSON(staff)
	}
	if len(staff) == 0 {
		fmt.Println("No staff enrolled.")
		return nil
	}

	headColor.Printf("%-12s %-30s %-8s %s\n", "STAFF ID", "NAME", "RECORDS", "REGISTERED")
	for _, s := range staff {
		registered := "-"
		if !s.RegisteredAt.IsZero() {
			registered = s.RegisteredAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-12s %-30s %-8d %s\n", s.StaffID, s.Name, s.Records, registered)
	}
	fmt.Printf("\n%d staff member(s)\n", len(staff))
	return nil
}

func runStaffShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.registry.Lookup(ctx, args[0])
	if err != nil {
		return failure("show", err)
	}
	if mustGetBool(cmd, "json") {
		return printJSON(records)
	}

	headColor.Printf("Staff %s\n", args[0])
	for _, rec := range records {
		fmt.Printf("  %s  %-30s %s  (%d-dim)\n", rec.RecordID, rec.Name, rec.SourceFileName, len(rec.Embedding))
	}
	return nil
}
