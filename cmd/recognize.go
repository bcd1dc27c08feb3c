package cmd

import (
	"context"
	"fmt"
	"math"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <photo|embedding.json>",
	Short: "Recognize a face against the enrolled students",
	Long: `Recognize a face against the enrolled students.

The argument is either a photo, which is sent to the embedding server, or a
JSON file holding a precomputed embedding.

Examples:
  # Who is this?
  face-attendance recognize kiosk.jpg

  # Recognize and record attendance like a kiosk would
  face-attendance recognize kiosk.jpg --mark

  # Try a stricter threshold
  face-attendance recognize probe.json --threshold 0.7 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Bool("mark", false, "Mark attendance for the recognized student")
	recognizeCmd.Flags().Float64("threshold", 0, "Acceptance threshold (0 = RECOGNITION_THRESHOLD)")
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

// RecognizeOutput is the JSON output of the recognize command
type RecognizeOutput struct {
	AttemptID  string   `json:"attempt_id,omitempty"`
	Matched    bool     `json:"matched"`
	StudentID  int64    `json:"student_id,omitempty"`
	Name       string   `json:"name,omitempty"`
	RollNumber string   `json:"roll_number,omitempty"`
	Confidence float64  `json:"confidence"`
	Distance   *float64 `json:"distance,omitempty"`
	Threshold  float64  `json:"threshold"`
	Success    *bool    `json:"success,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Message    string   `json:"message,omitempty"`
}

func newRecognizeOutput(m recognition.MatchResult, threshold float64) RecognizeOutput {
	out := RecognizeOutput{
		Matched:    m.Matched,
		Confidence: m.Confidence,
		Threshold:  threshold,
	}
	if !math.IsInf(m.Distance, 0) {
		d := m.Distance
		out.Distance = &d
	}
	if m.Candidate != nil {
		out.StudentID = m.Candidate.StudentID
		out.Name = m.Candidate.Name
		out.RollNumber = m.Candidate.RollNumber
	}
	return out
}

func (o *RecognizeOutput) setOutcome(outcome *attendance.Outcome) {
	success := outcome.Success
	o.Success = &success
	o.Reason = string(outcome.Reason)
	o.Message = outcome.Message
}

func runRecognize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	mark := mustGetBool(cmd, "mark")
	threshold := mustGetFloat64(cmd, "threshold")
	jsonOutput := mustGetBool(cmd, "json")

	s, err := openSession(ctx, func(cfg *config.Config) {
		if threshold > 0 {
			cfg.Recognition.Threshold = threshold
		}
	})
	if err != nil {
		return err
	}
	defer s.Close()

	probe, err := loadEmbedding(ctx, newEmbedder(s.cfg), args[0])
	if err != nil {
		return err
	}

	var out RecognizeOutput
	if mark {
		result, err := s.svc.RecognizeAndMark(ctx, probe)
		if err != nil {
			return fmt.Errorf("attendance attempt failed: %w", err)
		}
		out = newRecognizeOutput(result.Match, s.svc.Threshold())
		out.AttemptID = result.AttemptID
		if result.Attendance != nil {
			out.setOutcome(result.Attendance)
		}
	} else {
		match, err := s.svc.Recognize(ctx, probe)
		if err != nil {
			return fmt.Errorf("recognition failed: %w", err)
		}
		out = newRecognizeOutput(match, s.svc.Threshold())
	}

	if jsonOutput {
		return outputJSON(out)
	}

	if !out.Matched {
		fmt.Printf("Face not recognized. Confidence: %.2f (threshold %.2f)\n", out.Confidence, out.Threshold)
		return nil
	}
	fmt.Printf("Recognized: %s (%s), student ID %d\n", out.Name, out.RollNumber, out.StudentID)
	fmt.Printf("  Confidence: %.4f (threshold %.2f)\n", out.Confidence, out.Threshold)
	if out.Distance != nil {
		fmt.Printf("  Distance:   %.4f\n", *out.Distance)
	}
	if out.Message != "" {
		fmt.Printf("  Attendance: %s\n", out.Message)
	}
	return nil
}
