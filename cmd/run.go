package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/audiolibrelab/interviewcapture/internal/backend"
	"github.com/audiolibrelab/interviewcapture/internal/interview"
	"github.com/audiolibrelab/interviewcapture/internal/recorder"
	"github.com/audiolibrelab/interviewcapture/internal/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [session-file]",
	Short: "Record and submit every answer of an interview session",
	Long: `Run an interview session described by a YAML or JSON file.

Each question is recorded until its countdown expires. Controls:
  Enter        move on to the next question
  r + Enter    retry a failed upload or recording
  q + Enter    abort (Ctrl+C works too)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := interview.LoadSession(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		out := cmd.OutOrStdout()
		svc := service.New(cfg, cfgFile)

		fmt.Fprintf(out, "Session %s: %d questions\n", session.ID, len(session.Questions))
		fmt.Fprintf(out, "Press Enter to move on, r to retry, q to abort\n\n")

		// stdin reads cannot be interrupted, so this goroutine is not waited for
		go readControls(os.Stdin, svc, cancel)

		err = svc.RunInterview(ctx, session, consoleHooks(out))
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(out, "\nInterview aborted")
			return nil
		}
		return err
	},
}

// controls is the part of the service driven from the keyboard
type controls interface {
	ForceAdvance() error
	Retry() error
}

// readControls maps input lines to interview controls until the input ends
// or the user quits
func readControls(r io.Reader, c controls, quit func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var err error
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "":
			err = c.ForceAdvance()
		case "r":
			err = c.Retry()
		case "q":
			quit()
			return
		default:
			continue
		}
		if err != nil {
			slog.Debug("Control ignored", "error", err)
		}
	}
}

// consoleHooks prints interview progress to out
func consoleHooks(out io.Writer) interview.Hooks {
	return interview.Hooks{
		OnProgress: func(p interview.Progress) {
			switch p.State {
			case interview.StateRecording:
				fmt.Fprintf(out, "\n🎙  Question %d/%d: %s\n", p.Index+1, p.Total, questionText(p.Question))
				fmt.Fprintf(out, "   %s remaining", formatRemaining(p.Remaining))
			case interview.StateUploading:
				fmt.Fprintf(out, "\n⬆  Uploading answer %d/%d...\n", p.Index+1, p.Total)
			case interview.StateAnalyzing:
				fmt.Fprintf(out, "🔎 Submitting session for analysis...\n")
			case interview.StateDone:
				fmt.Fprintf(out, "✅ Interview complete\n")
			}
		},
		OnTick: func(remaining int) {
			fmt.Fprintf(out, "\r   %s remaining ", formatRemaining(remaining))
		},
		OnNotice: func(err error) {
			fmt.Fprintf(out, "\n⚠  %v\n", err)
			if retryable(err) {
				fmt.Fprintf(out, "   Press r to retry\n")
			}
		},
	}
}

// retryable reports whether Retry can recover from a notice
func retryable(err error) bool {
	var uploadErr *backend.UploadError
	var initErr *recorder.RecorderInitError
	return errors.As(err, &uploadErr) || errors.As(err, &initErr) || errors.Is(err, recorder.ErrNoAudioTrack)
}

func questionText(q *interview.Question) string {
	if q == nil {
		return ""
	}
	if q.Text == "" {
		return q.ID
	}
	return q.Text
}

// formatRemaining renders seconds as m:ss
func formatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
