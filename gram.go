package styletransfer

import (
	. "github.com/gomlx/gomlx/graph"
)

// GramMatrix computes the per-example channel-by-channel inner products of an
// activation tensor shaped [batchSize, height, width, channels], normalized by
// the number of spatial locations (height*width): the style signature of the
// activations, independent of spatial arrangement.
//
// Output is shaped [batchSize, channels, channels] and symmetric in the last
// two axes. Scaling the activations by k scales the result by k².
func GramMatrix(x *Node) *Node {
	x.AssertRank(4)
	height := x.Shape().Dimensions[1]
	width := x.Shape().Dimensions[2]
	gram := Einsum("bijc,bijd->bcd", x, x)
	return DivScalar(gram, float64(height*width))
}
