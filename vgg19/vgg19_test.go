package vgg19

import (
	"flag"
	"fmt"
	"math"
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	timages "github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

var flagDataDir = flag.String("data", "/tmp/gomlx_vgg19", "Directory where to download and reuse the VGG19 weights.")

func TestLayerCatalog(t *testing.T) {
	// 16 convolutions + 5 poolings.
	assert.Len(t, LayerNames, 21)
	assert.Equal(t, "block1_conv1", LayerNames[0])
	assert.Equal(t, "block5_pool", LayerNames[len(LayerNames)-1])

	assert.True(t, KnownLayer("block3_conv4"))
	assert.False(t, KnownLayer("block3_conv5"))
	assert.False(t, KnownLayer(""))

	assert.Equal(t, "/vgg19/block1_conv1", AliasForLayer("block1_conv1"))
	assert.Panics(t, func() { AliasForLayer("block9_conv9") })
}

func TestPreprocessImage(t *testing.T) {
	graphtest.RunTestGraphFn(t, "PreprocessImage", func(g *Graph) (inputs, outputs []*Node) {
		rgb := Const(g, [][][][]float32{{{{10, 20, 30}}}})
		inputs = []*Node{rgb}
		outputs = []*Node{Reshape(PreprocessImage(rgb, timages.ChannelsLast), 3)}
		return
	}, []any{
		// BGR reversal then ImageNet mean subtraction.
		[]float32{30 - 103.939, 20 - 116.779, 10 - 123.68},
	}, 1e-4)
}

func TestBuildGraphRandomWeights(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		image := Ones(g, shapes.Make(dtypes.Float32, 1, MinimumImageSize, MinimumImageSize, 3))
		features := BuildGraph(ctx, image).WithAliases(true).Done()
		// Every layer must have left its output aliased in the graph.
		for _, name := range LayerNames {
			require.NotNilf(t, g.GetNodeByAlias(AliasForLayer(name)), "no aliased output for layer %q", name)
		}
		return features
	})
	features := exec.Call()[0]
	// 32x32 input through 5 poolings collapses to a single spatial position.
	assert.True(t, features.Shape().Equal(shapes.Make(dtypes.Float32, 1, 1, 1, 512)),
		"features shape %s", features.Shape())
}

func TestBuildGraphAliasScopes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		imageA := Ones(g, shapes.Make(dtypes.Float32, 1, MinimumImageSize, MinimumImageSize, 3))
		imageB := Zeros(g, shapes.Make(dtypes.Float32, 1, MinimumImageSize, MinimumImageSize, 3))
		// Two aliased builds share one graph: same weights, separate aliases.
		featuresA := BuildGraph(ctx, imageA).WithAliases(true).Done()
		featuresB := BuildGraph(ctx, imageB).WithAliases(true).AliasScope("content").Done()
		nodeA := g.GetNodeByAlias(AliasForLayer("block3_conv1"))
		nodeB := g.GetNodeByAlias(AliasForLayerInScope("content", "block3_conv1"))
		require.NotNil(t, nodeA)
		require.NotNil(t, nodeB)
		require.NotSame(t, nodeA, nodeB)
		return Add(featuresA, featuresB)
	})
	features := exec.Call()[0]
	assert.True(t, features.Shape().Equal(shapes.Make(dtypes.Float32, 1, 1, 1, 512)),
		"features shape %s", features.Shape())
}

func TestBuildGraphPreTrained(t *testing.T) {
	if testing.Short() {
		fmt.Println("- github.com/gomlx/styletransfer/vgg19: TestBuildGraphPreTrained disabled for go test --short because it requires downloading a large file with weights.")
		return
	}
	backend := graphtest.BuildTestBackend()
	require.NoError(t, DownloadAndUnpackWeights(*flagDataDir))

	ctx := context.New()
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		image := MulScalar(Ones(g, shapes.Make(dtypes.Float32, 1, 64, 64, 3)), 128)
		image = PreprocessImage(image, timages.ChannelsLast)
		features := BuildGraph(ctx, image).
			PreTrained(*flagDataDir).
			Trainable(false).
			WithAliases(true).
			Done()
		early := g.GetNodeByAlias(AliasForLayer("block1_conv1"))
		require.NotNil(t, early)
		return []*Node{features, ReduceAllMin(early), ReduceAllMax(Abs(features))}
	})
	results := exec.Call()

	assert.True(t, results[0].Shape().Equal(shapes.Make(dtypes.Float32, 1, 2, 2, 512)))
	// Relu outputs are non-negative, and the features must be finite.
	maxAbs := float64(results[2].Value().(float32))
	assert.GreaterOrEqual(t, results[1].Value().(float32), float32(0))
	assert.False(t, math.IsNaN(maxAbs) || math.IsInf(maxAbs, 0))

	// The backbone must be frozen.
	ctx.EnumerateVariables(func(v *context.Variable) {
		assert.Falsef(t, v.Trainable, "variable %q::%q should be frozen", v.Scope(), v.Name())
	})
}
