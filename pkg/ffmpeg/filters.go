package ffmpeg

import (
	"fmt"
)

// FitFilter caps the longer edge at Max while keeping aspect ratio. Sources
// already within the cap keep their size. Both edges come out even, which
// yuv420p requires.
type FitFilter struct {
	Max int
}

func (f FitFilter) String() string {
	return fmt.Sprintf(
		"scale='if(gte(iw,ih),trunc(min(iw,%[1]d)/2)*2,-2)':'if(gte(iw,ih),-2,trunc(min(ih,%[1]d)/2)*2)'",
		f.Max,
	)
}

// FitWithin adds a FitFilter.
func FitWithin(maxEdge int) Option {
	return Filter(FitFilter{Max: maxEdge}.String())
}

// FitDimensions computes what FitFilter produces for a w×h source.
func FitDimensions(w, h, maxEdge int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	even := func(v int) int { return v / 2 * 2 }
	scaleOther := func(long, short, target int) int {
		// -2: nearest even to short*target/long.
		v := float64(short) * float64(target) / float64(long)
		return int(v/2+0.5) * 2
	}
	if w >= h {
		nw := even(min(w, maxEdge))
		return nw, scaleOther(w, h, nw)
	}
	nh := even(min(h, maxEdge))
	return scaleOther(h, w, nh), nh
}

// EvenDimensions rounds odd sizes down to even.
func EvenDimensions() Option {
	return Filter("scale=trunc(iw/2)*2:trunc(ih/2)*2")
}
