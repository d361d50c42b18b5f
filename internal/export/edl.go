package export

import (
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

// GenerateEDL renders the video clips of tl as a CMX3600 edit decision
// list: one event per clip in ascending start order, recorded at the
// clip's timeline position and sourced from the first duration seconds of
// its media.
func GenerateEDL(tl *timeline.Timeline, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = DefaultFPS
	}
	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", title)
	if isDropFrame {
		b.WriteString("FCM: DROP FRAME\n")
	} else {
		b.WriteString("FCM: NON-DROP FRAME\n")
	}
	b.WriteString("\n")

	for i, item := range timeline.VideoItems(tl) {
		srcIn := secondsToTimecode(0, fps)
		srcOut := secondsToTimecode(item.Duration, fps)
		recIn := secondsToTimecode(item.StartTime, fps)
		recOut := secondsToTimecode(item.StartTime+item.Duration, fps)

		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n", i+1, reelName(i), "AA/V", srcIn, srcOut, recIn, recOut)
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", path.Base(item.Src))
		fmt.Fprintf(&b, "* MEDIA PATH:  %s\n", item.Src)
	}

	if overlays := timeline.Overlays(tl); len(overlays) > 0 {
		b.WriteString("\n")
		for _, ov := range overlays {
			for _, el := range ov.Layout {
				if txt, ok := el.(*timeline.TextElement); ok {
					fmt.Fprintf(&b, "* OVERLAY %s-%s:  %s\n",
						secondsToTimecode(ov.StartTime, fps),
						secondsToTimecode(ov.StartTime+ov.Duration, fps),
						strings.ReplaceAll(txt.Text, "\n", " "))
				}
			}
		}
	}
	return b.String()
}

func reelName(i int) string {
	return fmt.Sprintf("CLIP%03d", i+1)
}

func secondsToTimecode(s float64, fps int) string {
	totalFrames := int(math.Round(s * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
