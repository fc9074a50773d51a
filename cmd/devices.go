package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/interviewcapture/internal/capture"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available cameras and microphones",
	Long:  `List the V4L2 video devices and PulseAudio/PipeWire sources that can be used for recording.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		video, audio, err := capture.ListDevices(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "🎥 Capture Devices (%s)\n", runtime.GOOS)
		fmt.Fprintf(out, "═══════════════════════════════════════\n\n")

		fmt.Fprintf(out, "📋 VIDEO DEVICES (%d found):\n", len(video))
		for i, dev := range video {
			fmt.Fprintf(out, "  %d. %s%s\n", i+1, dev, currentMarker(dev, cfg.Capture.VideoDevice))
		}

		fmt.Fprintf(out, "\n📋 AUDIO SOURCES (%d found):\n", len(audio))
		for i, src := range audio {
			fmt.Fprintf(out, "  %d. %s%s\n", i+1, src, currentMarker(src, cfg.Capture.AudioSource))
		}

		fmt.Fprintf(out, "\n💡 Usage:\n")
		fmt.Fprintf(out, "  • Configure capture.video_device: \"/dev/video0\"\n")
		fmt.Fprintf(out, "  • Configure capture.audio_source with a source name, or \"default\"\n\n")
		return nil
	},
}

func currentMarker(name, configured string) string {
	if name == configured {
		return " (configured)"
	}
	return ""
}
