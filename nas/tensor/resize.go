package tensor

import "math"

// ResizeBilinear resamples every (n, c) plane of t to outH x outW using
// bilinear interpolation with half-pixel centres (align_corners=false).
// Returns t itself when the size is unchanged.
func ResizeBilinear(t *Tensor, outH, outW int) *Tensor {
	if outH == t.H && outW == t.W {
		return t
	}
	out := New(t.N, t.C, outH, outW)
	ys := axisTaps(t.H, outH)
	xs := axisTaps(t.W, outW)
	for n := 0; n < t.N; n++ {
		for c := 0; c < t.C; c++ {
			src := t.Plane(n, c)
			dst := out.Plane(n, c)
			for oy, ty := range ys {
				row0 := src[ty.lo*t.W : (ty.lo+1)*t.W]
				row1 := src[ty.hi*t.W : (ty.hi+1)*t.W]
				for ox, tx := range xs {
					top := row0[tx.lo]*(1-tx.frac) + row0[tx.hi]*tx.frac
					bot := row1[tx.lo]*(1-tx.frac) + row1[tx.hi]*tx.frac
					dst[oy*outW+ox] = top*(1-ty.frac) + bot*ty.frac
				}
			}
		}
	}
	return out
}

type tap struct {
	lo, hi int
	frac   float64
}

// axisTaps precomputes source indices and weights for one axis.
func axisTaps(in, out int) []tap {
	taps := make([]tap, out)
	scale := float64(in) / float64(out)
	for i := range taps {
		src := (float64(i)+0.5)*scale - 0.5
		if src < 0 {
			src = 0
		}
		lo := int(math.Floor(src))
		if lo > in-1 {
			lo = in - 1
		}
		hi := min(lo+1, in-1)
		taps[i] = tap{lo: lo, hi: hi, frac: src - float64(lo)}
	}
	return taps
}
