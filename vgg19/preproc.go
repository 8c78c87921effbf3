package vgg19

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	timages "github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
)

// ImageNet per-channel means of the VGG training regime, in BGR order (the
// weights were converted from Caffe, which trained on BGR images).
var imagenetMeanBGR = []float32{103.939, 116.779, 123.68}

// PreprocessImage converts an image batch to the input VGG19 was trained on:
// it reverses the channels from RGB to BGR and subtracts the ImageNet
// per-channel mean.
//
// image must be rank-4 with 3 channels and values scaled from 0 to 255.
// Integer dtypes are converted to Float32 first.
func PreprocessImage(image *Node, channelsConfig timages.ChannelsAxisConfig) *Node {
	if image.Rank() != 4 {
		exceptions.Panicf("vgg19: PreprocessImage requires a rank-4 image batch, got rank %d", image.Rank())
	}
	g := image.Graph()
	channelsAxis := timages.GetChannelsAxis(image, channelsConfig)
	if image.Shape().Dimensions[channelsAxis] != 3 {
		exceptions.Panicf("vgg19: PreprocessImage requires 3 channels (RGB), got %s", image.Shape())
	}
	if image.DType().IsInt() {
		image = ConvertDType(image, dtypes.Float32)
	}

	// RGB -> BGR.
	image = Reverse(image, channelsAxis)

	mean := Const(g, imagenetMeanBGR)
	if image.DType() != mean.DType() {
		mean = ConvertDType(mean, image.DType())
	}
	broadcastDims := make([]int, image.Rank())
	for ii := range broadcastDims {
		broadcastDims[ii] = 1
	}
	broadcastDims[channelsAxis] = 3
	mean = Reshape(mean, broadcastDims...)
	return Sub(image, mean)
}
