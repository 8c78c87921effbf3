package styletransfer

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
)

// PadMode selects how ConvLayer pads the spatial axes before convolving.
type PadMode int

const (
	// PadZero fills the border with zeros. This is what the original
	// architecture this package reimplements actually used, even though
	// reflection padding was intended -- see PadReflect.
	PadZero PadMode = iota

	// PadReflect mirrors the image at the border, without repeating the border
	// row/column itself. The canonical choice for style transfer, since it
	// avoids dark convolution artifacts at the image edges.
	PadReflect
)

// String implements fmt.Stringer.
func (m PadMode) String() string {
	switch m {
	case PadZero:
		return "PadZero"
	case PadReflect:
		return "PadReflect"
	}
	return "InvalidPadMode"
}

// ConvLayer applies a learned 2D convolution preceded by an explicit spatial
// padding of kernelSize/2 on each side, using the given PadMode. No activation
// or normalization is applied -- callers compose those separately.
//
// x must be shaped [batchSize, height, width, channels]. For odd kernelSize
// and stride 1 the spatial dimensions are preserved exactly; otherwise they
// follow the usual convolution arithmetic
// floor((size + 2*(kernelSize/2) - kernelSize)/stride) + 1.
func ConvLayer(ctx *context.Context, x *Node, channels, kernelSize, stride int, padMode PadMode) *Node {
	x.AssertRank(4)
	x = spatialPad(x, kernelSize/2, padMode)
	return layers.Convolution(ctx, x).
		Filters(channels).KernelSize(kernelSize).Strides(stride).
		NoPadding().Done()
}

// spatialPad pads the two spatial axes of a [batch, height, width, channels]
// tensor by pad on each side.
func spatialPad(x *Node, pad int, mode PadMode) *Node {
	if pad == 0 {
		return x
	}
	switch mode {
	case PadZero:
		zero := ScalarZero(x.Graph(), x.DType())
		return Pad(x, zero,
			PadAxis{},
			PadAxis{Start: pad, End: pad},
			PadAxis{Start: pad, End: pad},
			PadAxis{})
	case PadReflect:
		for _, axis := range []int{1, 2} {
			x = reflectPadAxis(x, axis, pad)
		}
		return x
	}
	exceptions.Panicf("styletransfer: invalid PadMode %d", mode)
	return nil
}

// reflectPadAxis mirrors x at both ends of the given axis, excluding the
// border element itself (torch ReflectionPad2d semantics). The backends have
// no mirror-pad operation, so it is assembled from Slice+Reverse+Concatenate.
func reflectPadAxis(x *Node, axis, pad int) *Node {
	dim := x.Shape().Dimensions[axis]
	if pad >= dim {
		exceptions.Panicf("styletransfer: reflect padding of %d requires axis %d to have at least %d elements, got %d",
			pad, axis, pad+1, dim)
	}
	before := Reverse(sliceAxis(x, axis, 1, pad+1), axis)
	after := Reverse(sliceAxis(x, axis, dim-pad-1, dim-1), axis)
	return Concatenate([]*Node{before, x, after}, axis)
}

// sliceAxis takes x[..., from:to, ...] on the given axis, full range elsewhere.
func sliceAxis(x *Node, axis, from, to int) *Node {
	specs := make([]SliceAxisSpec, x.Rank())
	for ii := range specs {
		if ii == axis {
			specs[ii] = AxisRange(from, to)
		} else {
			specs[ii] = AxisRange()
		}
	}
	return Slice(x, specs...)
}
