package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// studentFileName is the optional metadata file inside an import directory.
const studentFileName = "student.yaml"

var enrollImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Enroll every student found in a directory tree",
	Long: `Enroll every student found in a directory tree.

Each subdirectory of <dir> is one student and holds that student's photos
and/or .json embeddings. Student details come from an optional student.yaml:

  name: Alice Novak
  roll_number: CS-001
  email: alice@example.com
  phone: "+420 123 456 789"
  course: Computer Science

Without student.yaml the directory name is used as ROLL_Name, e.g.
"CS-001_Alice_Novak". Students whose roll number is already enrolled are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollImport,
}

func init() {
	enrollCmd.AddCommand(enrollImportCmd)

	enrollImportCmd.Flags().Int("concurrency", constants.DefaultImportConcurrency, "Number of students processed in parallel")
	enrollImportCmd.Flags().Bool("json", false, "Output as JSON")
}

// importStudent is one student directory to enroll
type importStudent struct {
	Dir        string   `yaml:"-"`
	Files      []string `yaml:"-"`
	Name       string   `yaml:"name"`
	RollNumber string   `yaml:"roll_number"`
	Email      string   `yaml:"email"`
	Phone      string   `yaml:"phone"`
	Course     string   `yaml:"course"`
}

// ImportFailure describes a student directory that could not be enrolled
type ImportFailure struct {
	Dir   string `json:"dir"`
	Error string `json:"error"`
}

// ImportResult is the JSON output of the import command
type ImportResult struct {
	Students      int             `json:"students"`
	Enrolled      int             `json:"enrolled"`
	Skipped       int             `json:"skipped"`
	Failed        []ImportFailure `json:"failed,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
	DurationHuman string          `json:"-"`
}

// parseStudentDirName splits a "ROLL_Name_Parts" directory name.
func parseStudentDirName(name string) (roll, studentName string, ok bool) {
	roll, rest, found := strings.Cut(name, "_")
	if !found || roll == "" || rest == "" {
		return "", "", false
	}
	return roll, strings.Join(strings.FieldsFunc(rest, func(r rune) bool { return r == '_' }), " "), true
}

// scanImportDir lists the student directories under root.
func scanImportDir(root string) ([]importStudent, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	var students []importStudent
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		st, err := readStudentDir(dir)
		if err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, nil
}

// readStudentDir collects the samples and details of one student directory.
func readStudentDir(dir string) (importStudent, error) {
	st := importStudent{Dir: dir}

	data, err := os.ReadFile(filepath.Join(dir, studentFileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &st); err != nil {
			return st, fmt.Errorf("parsing %s: %w", filepath.Join(dir, studentFileName), err)
		}
	case errors.Is(err, os.ErrNotExist):
		roll, name, ok := parseStudentDirName(filepath.Base(dir))
		if !ok {
			return st, fmt.Errorf("%s: no %s and directory name is not ROLL_Name", dir, studentFileName)
		}
		st.RollNumber, st.Name = roll, name
	default:
		return st, fmt.Errorf("reading %s: %w", filepath.Join(dir, studentFileName), err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return st, fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() || !(isImageFile(path) || isEmbeddingFile(path)) {
			continue
		}
		st.Files = append(st.Files, path)
	}
	sort.Strings(st.Files)
	if len(st.Files) > constants.MaxEnrolmentEmbeddings {
		st.Files = st.Files[:constants.MaxEnrolmentEmbeddings]
	}
	return st, nil
}

// enrollerService is the part of the attendance service used by imports.
type enrollerService interface {
	Enroll(ctx context.Context, req attendance.EnrollRequest) (*attendance.EnrollResult, error)
}

// importStudentDir computes the samples of one student and enrolls them.
// Returns skipped=true when the student is already enrolled.
func importStudentDir(ctx context.Context, svc enrollerService, emb faceEmbedder, st importStudent) (bool, error) {
	if len(st.Files) == 0 {
		return false, errors.New("no photos or embeddings")
	}

	embeddings := make([][]float32, 0, len(st.Files))
	for _, path := range st.Files {
		e, err := loadEmbedding(ctx, emb, path)
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("Skipping face sample")
			continue
		}
		embeddings = append(embeddings, e)
	}
	if len(embeddings) == 0 {
		return false, errors.New("no usable face samples")
	}

	result, err := svc.Enroll(ctx, attendance.EnrollRequest{
		Name:       st.Name,
		RollNumber: st.RollNumber,
		Email:      st.Email,
		Phone:      st.Phone,
		Course:     st.Course,
		Embeddings: embeddings,
	})
	if errors.Is(err, attendance.ErrStudentExists) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	for _, la := range result.LookAlikes {
		log.WithFields(log.Fields{
			"roll_number": result.Student.RollNumber,
			"similar_to":  la.RollNumber,
			"similarity":  la.Similarity,
		}).Warn("Imported student resembles an enrolled student")
	}
	return false, nil
}

func runEnrollImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jsonOutput := mustGetBool(cmd, "json")
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)
	startTime := time.Now()

	students, err := scanImportDir(args[0])
	if err != nil {
		return err
	}
	if len(students) == 0 {
		if jsonOutput {
			return outputJSON(ImportResult{})
		}
		fmt.Println("No student directories found.")
		return nil
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	emb := newEmbedder(s.cfg)

	if !jsonOutput {
		fmt.Printf("Found %d student directories to import\n\n", len(students))
	}

	// Create progress bar (only for non-JSON output)
	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(students),
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("students"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	var enrolled, skipped int64
	var mu sync.Mutex
	var failed []ImportFailure
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, st := range students {
		wg.Add(1)
		go func(st importStudent) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			wasSkipped, err := importStudentDir(ctx, s.svc, emb, st)
			switch {
			case err != nil:
				mu.Lock()
				failed = append(failed, ImportFailure{Dir: st.Dir, Error: err.Error()})
				mu.Unlock()
			case wasSkipped:
				atomic.AddInt64(&skipped, 1)
			default:
				atomic.AddInt64(&enrolled, 1)
			}

			if bar != nil {
				bar.Add(1)
			}
		}(st)
	}

	wg.Wait()

	if bar != nil {
		fmt.Println()
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].Dir < failed[j].Dir })
	duration := time.Since(startTime)
	result := ImportResult{
		Students:      len(students),
		Enrolled:      int(enrolled),
		Skipped:       int(skipped),
		Failed:        failed,
		DurationMs:    duration.Milliseconds(),
		DurationHuman: formatDuration(duration),
	}

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Println("\nImport complete!")
	fmt.Printf("  Students found:  %d\n", result.Students)
	fmt.Printf("  Enrolled:        %d\n", result.Enrolled)
	if result.Skipped > 0 {
		fmt.Printf("  Already present: %d\n", result.Skipped)
	}
	if len(result.Failed) > 0 {
		fmt.Printf("  Failed:          %d\n", len(result.Failed))
		for _, f := range result.Failed {
			fmt.Printf("    %s: %s\n", f.Dir, f.Error)
		}
	}
	fmt.Printf("  Duration:        %s\n", result.DurationHuman)
	return nil
}

// formatDuration formats a duration as a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
