package media

import (
	"regexp"
	"strconv"
	"time"
)

var progressRegex = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)

// ParseProgress reads the position out of an ffmpeg status line such as
// "frame= 120 fps=30 ... time=00:01:02.50 bitrate=...".
func ParseProgress(line string) (time.Duration, bool) {
	groups := progressRegex.FindStringSubmatch(line)
	if groups == nil {
		return 0, false
	}
	hours, err := strconv.Atoi(groups[1])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(groups[2])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(groups[3], 64)
	if err != nil {
		return 0, false
	}
	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, true
}

// Progress is reported while transcoding.
type Progress struct {
	Position time.Duration
	Duration time.Duration
}

func (p Progress) Fraction() float64 {
	if p.Duration <= 0 {
		return 0
	}
	f := float64(p.Position) / float64(p.Duration)
	if f > 1 {
		return 1
	}
	return f
}
