package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/audiolibrelab/interviewcapture/internal/interview"
	"github.com/audiolibrelab/interviewcapture/internal/recorder"
	"github.com/audiolibrelab/interviewcapture/internal/service"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [session-file]",
	Short: "Show resolved configuration and question timings for a session",
	Long:  `Display the resolved configuration with inheritance indicators, the recording format that will be used, and the effective duration of every question. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := interview.LoadSession(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		info := service.New(cfg, cfgFile).GetSessionInfo(session)

		fmt.Fprintf(out, "=== SESSION ===\n")
		fmt.Fprintf(out, "session_id: %s\n", info.SessionID)
		fmt.Fprintf(out, "format: %s\n", info.Format)
		fmt.Fprintf(out, "backend: %s\n", info.Backend)
		total := 0
		for i, q := range info.Questions {
			source := "default"
			if q.Estimated {
				source = "estimated"
			}
			fmt.Fprintf(out, "%d. %s: %s (%s) %s\n", i+1, q.ID, formatRemaining(q.Seconds), source, q.Text)
			total += q.Seconds
		}
		fmt.Fprintf(out, "total: %s\n", formatRemaining(total))

		fmt.Fprintf(out, "\n=== RESOLVED CONFIGURATION ===\n")

		fmt.Fprintf(out, "\n[Capture]\n")
		printSetting(out, "video_device", cfg.Capture.VideoDevice, "capture.video_device")
		printSetting(out, "audio_source", cfg.Capture.AudioSource, "capture.audio_source")
		printSetting(out, "audio_input", cfg.Capture.AudioInput, "capture.audio_input")
		printSetting(out, "audio_enabled", cfg.AudioEnabled(), "capture.audio_enabled")

		fmt.Fprintf(out, "\n[Recorder]\n")
		printSetting(out, "backend", cfg.Recorder.Backend, "recorder.backend")
		fmt.Fprintf(out, "available_backends: %v\n", recorder.AvailableBackends())
		printSetting(out, "ffmpeg_path", cfg.Recorder.FFmpegPath, "recorder.ffmpeg_path")
		printSetting(out, "preferred_formats", strings.Join(cfg.Recorder.PreferredFormats, ", "), "recorder.preferred_formats")
		printSetting(out, "chunk_size", cfg.Recorder.ChunkSize, "recorder.chunk_size")
		printSetting(out, "stop_timeout", cfg.Recorder.StopTimeout, "recorder.stop_timeout")

		fmt.Fprintf(out, "\n[Interview]\n")
		printSetting(out, "default_question_seconds", cfg.Interview.DefaultQuestionSeconds, "interview.default_question_seconds")

		fmt.Fprintf(out, "\n[Backend]\n")
		printSetting(out, "base_url", cfg.Backend.BaseURL, "backend.base_url")
		printSetting(out, "timeout", cfg.Backend.Timeout, "backend.timeout")
		if cfg.Backend.Token != "" {
			printSetting(out, "token", "********", "backend.token")
		}

		return nil
	},
}

func printSetting(out io.Writer, name string, value interface{}, key string) {
	fmt.Fprintf(out, "%s: %v %s\n", name, value, getInheritanceIndicator(cfg.Inheritance[key]))
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[built-in]"
	}
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
