package styletransfer

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	timages "github.com/gomlx/gomlx/types/tensors/images"
	"github.com/pkg/errors"

	"github.com/gomlx/styletransfer/vgg19"
)

// Default layer selections, following the classic Gatys et al. setup: style
// from the first convolution of each VGG19 block, content from deep in the
// last block.
var (
	DefaultStyleLayers = []string{
		"block1_conv1", "block2_conv1", "block3_conv1", "block4_conv1", "block5_conv1",
	}
	DefaultContentLayers = []string{"block5_conv2"}
)

// StyleContentModel extracts style and content representations from images
// using a frozen pre-trained VGG19 backbone: per style layer the Gram matrix
// of its activations, per content layer the raw activations.
//
// None of its parameters are trainable; it is meant to be differentiated
// *through* when computing perceptual losses against TransformerNet outputs.
type StyleContentModel struct {
	weightsDir                 string
	styleLayers, contentLayers []string
}

// NewStyleContentModel validates the requested layer names against the VGG19
// layer catalog and downloads/unpacks the pre-trained weights if needed. Both
// an unknown layer name and a failure to materialize the weights are
// construction errors -- nothing fails later at extraction time.
func NewStyleContentModel(weightsDir string, styleLayers, contentLayers []string) (*StyleContentModel, error) {
	for _, names := range [][]string{styleLayers, contentLayers} {
		for _, name := range names {
			if !vgg19.KnownLayer(name) {
				return nil, errors.Errorf("styletransfer: VGG19 has no layer named %q -- see vgg19.LayerNames", name)
			}
		}
	}
	if err := vgg19.DownloadAndUnpackWeights(weightsDir); err != nil {
		return nil, errors.WithMessage(err, "styletransfer: fetching VGG19 weights for StyleContentModel")
	}
	return &StyleContentModel{
		weightsDir:    weightsDir,
		styleLayers:   styleLayers,
		contentLayers: contentLayers,
	}, nil
}

// StyleLayers returns the configured style layer names, in order.
func (m *StyleContentModel) StyleLayers() []string { return m.styleLayers }

// ContentLayers returns the configured content layer names, in order.
func (m *StyleContentModel) ContentLayers() []string { return m.contentLayers }

// ExtractGraph builds the extraction into the graph of image, which must be
// shaped [batchSize, height, width, 3] with values in [0, 1].
//
// It returns one map per representation: style layer name to Gram matrix
// ([batchSize, channels, channels]) and content layer name to raw activations.
// The key sets always equal the configured layer name sets.
//
// The backbone variables are created frozen under ctx.In("vgg19"); the train
// flag of the graph is left untouched, as the backbone has no layer that
// behaves differently in training.
//
// It can be called several times on the same graph -- e.g. once for the
// content batch and once for the stylized output when assembling a perceptual
// loss. The backbone weights are shared across calls; only the graph nodes
// are rebuilt, under a fresh alias scope per call.
func (m *StyleContentModel) ExtractGraph(ctx *context.Context, image *Node) (style, content map[string]*Node) {
	g := image.Graph()
	ctxVGG := ctx.In("vgg19").Checked(false)

	// Node aliases must be unique in a graph, so each extraction gets its own
	// alias scope: "vgg19", then "vgg19_1", "vgg19_2", ...
	aliasScope := vgg19.AliasScope
	for ii := 1; g.GetNodeByAlias(vgg19.AliasForLayerInScope(aliasScope, vgg19.LayerNames[0])) != nil; ii++ {
		aliasScope = fmt.Sprintf("%s_%d", vgg19.AliasScope, ii)
	}

	x := MulScalar(image, 255.0)
	x = vgg19.PreprocessImage(x, timages.ChannelsLast)
	_ = vgg19.BuildGraph(ctxVGG, x).
		PreTrained(m.weightsDir).
		Trainable(false).
		WithAliases(true).
		AliasScope(aliasScope).
		Done()

	style = make(map[string]*Node, len(m.styleLayers))
	for _, name := range m.styleLayers {
		style[name] = GramMatrix(layerOutput(g, aliasScope, name))
	}
	content = make(map[string]*Node, len(m.contentLayers))
	for _, name := range m.contentLayers {
		content[name] = layerOutput(g, aliasScope, name)
	}
	return
}

func layerOutput(g *Graph, aliasScope, name string) *Node {
	node := g.GetNodeByAlias(vgg19.AliasForLayerInScope(aliasScope, name))
	if node == nil {
		exceptions.Panicf("styletransfer: VGG19 graph has no output aliased for layer %q", name)
	}
	return node
}

// Extractor is a compiled StyleContentModel: it owns the execution of the
// extraction graph, JIT-compiled once per input shape.
type Extractor struct {
	model *StyleContentModel
	exec  *context.Exec
}

// NewExtractor compiles the extraction for stand-alone use -- e.g. to compute
// the style targets of a fixed style image once, outside the training graph.
// A nil ctx creates a fresh one.
func (m *StyleContentModel) NewExtractor(backend backends.Backend, ctx *context.Context) *Extractor {
	if ctx == nil {
		ctx = context.New()
	}
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, image *Node) []*Node {
		style, content := m.ExtractGraph(ctx, image)
		outputs := make([]*Node, 0, len(m.styleLayers)+len(m.contentLayers))
		for _, name := range m.styleLayers {
			outputs = append(outputs, style[name])
		}
		for _, name := range m.contentLayers {
			outputs = append(outputs, content[name])
		}
		return outputs
	})
	return &Extractor{model: m, exec: exec}
}

// Call runs the extraction on an image batch shaped [batchSize, height,
// width, 3] with values in [0, 1], returning materialized style and content
// representations keyed by layer name.
func (e *Extractor) Call(image *tensors.Tensor) (style, content map[string]*tensors.Tensor) {
	results := e.exec.Call(image)
	style = make(map[string]*tensors.Tensor, len(e.model.styleLayers))
	for ii, name := range e.model.styleLayers {
		style[name] = results[ii]
	}
	content = make(map[string]*tensors.Tensor, len(e.model.contentLayers))
	for ii, name := range e.model.contentLayers {
		content[name] = results[len(e.model.styleLayers)+ii]
	}
	return
}
