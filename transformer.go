package styletransfer

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/types/shapes"
	timages "github.com/gomlx/gomlx/types/tensors/images"
)

// Mode selects whether a forward build runs with training semantics
// (batch normalization uses and updates batch statistics) or evaluation
// semantics (moving averages only). It is applied once per forward build,
// to the whole graph.
type Mode int

const (
	ModeEval Mode = iota
	ModeTrain
)

// NumResidualBlocks in the middle of TransformerNet.
const NumResidualBlocks = 5

// ResidualBlock builds a pre-activation residual block:
// x + conv(relu(norm(conv(relu(norm(x)))))), with two 3x3 ConvLayers of the
// given channels count.
//
// The stride is applied to both internal convolutions -- faithful to the
// original architecture, which differs from the canonical residual block
// (stride on the first convolution only). With any stride other than 1 the
// skip addition no longer matches the convolution path's shape and the graph
// build fails.
//
// x must be shaped [batchSize, height, width, channels] with channels equal
// to the channels argument.
func ResidualBlock(ctx *context.Context, x *Node, channels, stride int, padMode PadMode) *Node {
	x.AssertRank(4)
	residual := x
	x = batchnorm.New(ctx.In("norm1"), x, -1).Done()
	x = activations.Relu(x)
	x = ConvLayer(ctx.In("conv1"), x, channels, 3, stride, padMode)
	x = batchnorm.New(ctx.In("norm2"), x, -1).Done()
	x = activations.Relu(x)
	x = ConvLayer(ctx.In("conv2"), x, channels, 3, stride, padMode)
	return Add(x, residual)
}

// convTranspose2D builds a learned transposed ("fractionally strided")
// convolution with "same"-style padding and no bias: spatial dimensions are
// multiplied by stride. The kernel variable is shaped
// [kernelSize, kernelSize, inputChannels, channels] and owned by the given
// scope.
//
// It is expressed as a stride-1 convolution over the input dilated by stride:
// for a forward "same" padding p the transposed padding is kernelSize-1-p per
// side.
func convTranspose2D(ctx *context.Context, x *Node, channels, kernelSize, stride int) *Node {
	x.AssertRank(4)
	g := x.Graph()
	inputChannels := x.Shape().Dimensions[3]
	kernelVar := ctx.VariableWithShape("weights",
		shapes.Make(x.DType(), kernelSize, kernelSize, inputChannels, channels))
	kernel := kernelVar.ValueGraph(g)

	forwardStart := (kernelSize - stride) / 2
	forwardEnd := kernelSize - stride - forwardStart
	padding := [2]int{kernelSize - 1 - forwardStart, kernelSize - 1 - forwardEnd}
	return Convolve(x, kernel).
		ChannelsAxis(timages.ChannelsLast).
		InputDilationPerDim(stride, stride).
		PaddingPerDim([][2]int{padding, padding}).
		Done()
}

// TransformerConfig configures the TransformerNet build. Set the options and
// call Done to add the network to the graph.
type TransformerConfig struct {
	ctx     *context.Context
	image   *Node
	padMode PadMode
	mode    Mode
}

// TransformerNet starts building the image transformation network on image,
// shaped [batchSize, height, width, 3] with values in [0, 255]. Height and
// width must be multiples of 4 (the stem downsamples by 4x and the upsampling
// stem restores the size exactly).
//
// Returns a TransformerConfig; set options (TransformerConfig.PadMode,
// TransformerConfig.Mode) and call Done to get the output node: same shape as
// the input, values in [0, 255].
//
// Variables are created (or reused) in the given context scope, so calling it
// twice with the same context applies the same network to two inputs.
func TransformerNet(ctx *context.Context, image *Node) *TransformerConfig {
	return &TransformerConfig{
		ctx:     ctx,
		image:   image,
		padMode: PadZero,
		mode:    ModeEval,
	}
}

// PadMode sets the padding mode used by every ConvLayer of the network.
// Default is PadZero, matching the original architecture's observed behavior.
func (c *TransformerConfig) PadMode(mode PadMode) *TransformerConfig {
	c.padMode = mode
	return c
}

// Mode sets training vs. evaluation semantics for this forward build.
// Default is ModeEval.
func (c *TransformerConfig) Mode(mode Mode) *TransformerConfig {
	c.mode = mode
	return c
}

// Done builds the network and returns its output node.
func (c *TransformerConfig) Done() *Node {
	x := c.image
	x.AssertRank(4)
	g := x.Graph()
	ctx := c.ctx
	ctx.SetTraining(g, c.mode == ModeTrain)

	batchSize := x.Shape().Dimensions[0]
	height, width := x.Shape().Dimensions[1], x.Shape().Dimensions[2]
	if x.Shape().Dimensions[3] != 3 {
		exceptions.Panicf("styletransfer: TransformerNet takes images shaped [batch, height, width, 3], got %s",
			x.Shape())
	}
	if height%4 != 0 || width%4 != 0 {
		exceptions.Panicf("styletransfer: TransformerNet requires spatial dimensions divisible by 4, got %dx%d",
			height, width)
	}

	// Scale pixel values to [0, 1].
	x = MulScalar(x, 1.0/255.0)

	// Downsampling stem: 32 -> 64 -> 128 channels, 4x spatial reduction.
	x = ConvLayer(ctx.In("conv1"), x, 32, 9, 1, c.padMode)
	x = batchnorm.New(ctx.In("norm1"), x, -1).Done()
	x = activations.Relu(x)
	x = ConvLayer(ctx.In("conv2"), x, 64, 3, 2, c.padMode)
	x = batchnorm.New(ctx.In("norm2"), x, -1).Done()
	x = activations.Relu(x)
	x = ConvLayer(ctx.In("conv3"), x, 128, 3, 2, c.padMode)
	x = batchnorm.New(ctx.In("norm3"), x, -1).Done()
	x = activations.Relu(x)
	x.AssertDims(batchSize, height/4, width/4, 128)

	for ii := range NumResidualBlocks {
		x = ResidualBlock(ctx.Inf("res%d", ii+1), x, 128, 1, c.padMode)
	}

	// Upsampling stem: two learned transposed convolutions restore the
	// original spatial size.
	x = convTranspose2D(ctx.In("deconv1"), x, 64, 3, 2)
	x = batchnorm.New(ctx.In("norm4"), x, -1).Done()
	x = activations.Relu(x)
	x = convTranspose2D(ctx.In("deconv2"), x, 32, 3, 2)
	x = batchnorm.New(ctx.In("norm5"), x, -1).Done()
	x = activations.Relu(x)
	x = ConvLayer(ctx.In("deconv3"), x, 3, 9, 1, c.padMode)
	x.AssertDims(batchSize, height, width, 3)

	// Bounded output, rescaled from [-1, 1] back to pixel range.
	return AddScalar(MulScalar(Tanh(x), 127.5), 127.5)
}
