// Package vgg19 implements the convolutional feature column of the VGG19
// image-classification network (Simonyan & Zisserman, 2014), with optional
// loading of the Keras ImageNet pre-trained weights.
//
// It is used as a frozen backbone: the interesting products are the
// intermediate activations, which BuildGraph exposes as node aliases, one per
// named layer ("block1_conv1" ... "block5_pool").
//
// Before building a pre-trained graph, call DownloadAndUnpackWeights to make
// sure the weights are materialized locally.
package vgg19

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

const (
	// AliasScope is the default alias scope under which BuildGraph registers
	// one node alias per layer. Overridden per build with Config.AliasScope.
	// See AliasForLayer.
	AliasScope = "vgg19"

	// MinimumImageSize accepted by the feature column: 5 pooling stages each
	// halve the spatial dimensions, anything smaller collapses to nothing.
	MinimumImageSize = 32
)

// The VGG19 feature column: 5 blocks of 3x3 "same" convolutions (with bias
// and relu) followed by a 2x2 max-pooling each.
var (
	blockConvs    = []int{2, 2, 4, 4, 4}
	blockChannels = []int{64, 128, 256, 512, 512}
)

// LayerNames lists every named layer of the feature column, in forward order:
// "block1_conv1", "block1_conv2", "block1_pool", ..., "block5_pool".
var LayerNames = func() []string {
	names := make([]string, 0, 21)
	for blockIdx, numConvs := range blockConvs {
		for convIdx := range numConvs {
			names = append(names, fmt.Sprintf("block%d_conv%d", blockIdx+1, convIdx+1))
		}
		names = append(names, fmt.Sprintf("block%d_pool", blockIdx+1))
	}
	return names
}()

var knownLayers = func() map[string]bool {
	known := make(map[string]bool, len(LayerNames))
	for _, name := range LayerNames {
		known[name] = true
	}
	return known
}()

// KnownLayer reports whether name is a layer of the VGG19 feature column.
func KnownLayer(name string) bool { return knownLayers[name] }

// AliasForLayer returns the absolute node alias under which BuildGraph
// (configured WithAliases, with the default alias scope) registers the output
// of the named layer. It panics on unknown layer names: a configuration
// error, caught at construction time.
func AliasForLayer(name string) string {
	return AliasForLayerInScope(AliasScope, name)
}

// AliasForLayerInScope is AliasForLayer for a build configured with a custom
// Config.AliasScope.
func AliasForLayerInScope(scope, name string) string {
	if !KnownLayer(name) {
		exceptions.Panicf("vgg19: unknown layer name %q -- see vgg19.LayerNames for the valid set", name)
	}
	return fmt.Sprintf("%s%s%s%s", AliasScopeSeparator, scope, AliasScopeSeparator, name)
}

// Config of a VGG19 graph build. Create it with BuildGraph, adjust and then
// call Done.
type Config struct {
	ctx           *context.Context
	image         *Node
	preTrainedDir string
	trainable     bool
	withAliases   bool
	aliasScope    string
}

// BuildGraph adds the VGG19 feature column computing on image, shaped
// [batchSize, height, width, 3], already preprocessed with PreprocessImage.
//
// Returns a Config: set the options (Config.PreTrained, Config.Trainable,
// Config.WithAliases) and call Config.Done, which returns the "block5_pool"
// output, shaped [batchSize, height/32, width/32, 512].
//
// Variables are created (or reused) in the given context scope: calling it
// twice with the same context runs the same weights over two inputs, e.g. for
// a style and a content image in one graph. Aliased builds sharing a graph
// each need their own Config.AliasScope, since node aliases must be unique.
func BuildGraph(ctx *context.Context, image *Node) *Config {
	// Mixed usage of the context: variables are created on the first build
	// and reused on later ones, so it must be unchecked.
	return &Config{
		ctx:        ctx.Checked(false),
		image:      image,
		trainable:  true,
		aliasScope: AliasScope,
	}
}

// PreTrained loads the Keras ImageNet weights from baseDir -- the same
// directory given to DownloadAndUnpackWeights -- instead of initializing the
// convolution kernels randomly.
func (c *Config) PreTrained(baseDir string) *Config {
	c.preTrainedDir = baseDir
	return c
}

// Trainable marks the backbone variables as trainable or frozen. Default is
// trainable; feature extraction wants Trainable(false).
func (c *Config) Trainable(trainable bool) *Config {
	c.trainable = trainable
	return c
}

// WithAliases registers one node alias per layer output, named
// AliasForLayerInScope(aliasScope, layerName), so intermediate activations
// can be retrieved with Graph.GetNodeByAlias after the build.
func (c *Config) WithAliases(enabled bool) *Config {
	c.withAliases = enabled
	return c
}

// AliasScope sets the alias scope under which WithAliases registers the layer
// outputs. Default is the package constant AliasScope; set a distinct scope
// per build when running the backbone over several images in one graph.
func (c *Config) AliasScope(scope string) *Config {
	c.aliasScope = scope
	return c
}

// Done builds the graph as configured and returns the final feature node.
func (c *Config) Done() *Node {
	x := c.image
	x.AssertRank(4)
	g := x.Graph()
	if x.Shape().Dimensions[3] != 3 {
		exceptions.Panicf("vgg19: image must be shaped [batch, height, width, 3], got %s", x.Shape())
	}
	for _, axis := range []int{1, 2} {
		if dim := x.Shape().Dimensions[axis]; dim < MinimumImageSize {
			exceptions.Panicf("vgg19: spatial dimensions must be at least %d, got %s -- "+
				"the 5 pooling stages would collapse the image", MinimumImageSize, x.Shape())
		}
	}

	var weights *kerasWeights
	if c.preTrainedDir != "" {
		weights = newKerasWeights(c.preTrainedDir)
	}
	if c.withAliases {
		g.PushAliasScope(c.aliasScope)
		defer g.PopAliasScope()
	}

	for blockIdx, numConvs := range blockConvs {
		for convIdx := range numConvs {
			name := fmt.Sprintf("block%d_conv%d", blockIdx+1, convIdx+1)
			ctxConv := c.ctx.In(name)
			if weights != nil {
				ctxConv = weights.Read(ctxConv, name)
			}
			x = layers.Convolution(ctxConv, x).
				Filters(blockChannels[blockIdx]).KernelSize(3).PadSame().Done()
			x = activations.Relu(x)
			if c.withAliases {
				x = x.WithAlias(name)
			}
		}
		x = MaxPool(x).Window(2).Strides(2).Done()
		if c.withAliases {
			x = x.WithAlias(fmt.Sprintf("block%d_pool", blockIdx+1))
		}
	}

	if !c.trainable {
		c.ctx.EnumerateVariablesInScope(func(v *context.Variable) {
			v.SetTrainable(false)
		})
	}
	return x
}

// kerasWeights retrieves the pre-trained tensors unpacked from the Keras
// ".h5" release, mapping layer names to the unpacked tensor files.
type kerasWeights struct {
	baseDir string
}

func newKerasWeights(baseDir string) *kerasWeights {
	return &kerasWeights{baseDir: baseDir}
}

// Read initializes the convolution variables ("weights" and "biases") of the
// named layer in ctx from the unpacked weight files, and returns the context
// marked for reuse. Missing or unreadable weight files are fatal to the build.
func (kw *kerasWeights) Read(ctx *context.Context, layerName string) *context.Context {
	// The ".h5" file groups each layer's tensors under a doubled layer name.
	h5Group := fmt.Sprintf("%s/%s/", layerName, layerName)
	kw.loadToVariable(ctx, h5Group+"kernel:0", "weights")
	kw.loadToVariable(ctx, h5Group+"bias:0", "biases")
	return ctx.Reuse()
}

func (kw *kerasWeights) loadToVariable(ctx *context.Context, tensorName, variableName string) {
	if ctx.InspectVariable(ctx.Scope(), variableName) != nil {
		// Already loaded in a previous build with this context.
		return
	}
	tensorPath := PathToTensor(kw.baseDir, tensorName)
	local, err := tensors.Load(tensorPath)
	if err != nil {
		panic(errors.WithMessagef(err, "vgg19: failed to load pre-trained weights from %q -- "+
			"was DownloadAndUnpackWeights called with the same directory?", tensorPath))
	}
	_ = ctx.VariableWithValue(variableName, local)
}
