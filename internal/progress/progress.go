package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Bar is a thin wrapper around the progress bar used while integrating
// packages. A nil-safe, disabled bar is returned when output is discarded so
// callers never have to check for enablement.
type Bar struct {
	bar *progressbar.ProgressBar
}

func New(w io.Writer, max int, description string) *Bar {
	if w == nil {
		w = io.Discard
	}

	return &Bar{
		bar: progressbar.NewOptions(max,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
		),
	}
}

// NewNop returns a bar that renders nothing. Used in tests and in long
// running mode where progress is meaningless.
func NewNop() *Bar {
	return New(io.Discard, -1, "")
}

func (b *Bar) Add(n int) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}
