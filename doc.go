// Package styletransfer defines the model graphs for fast feed-forward image
// style transfer, in the spirit of "Perceptual Losses for Real-Time Style
// Transfer and Super-Resolution" (Johnson et al., 2016):
//
//   - TransformerNet: the image-to-image transformation network -- a
//     downsampling stem, a stack of residual blocks and a learned upsampling
//     stem. It takes a batch of images with values in [0, 255] and returns a
//     batch of the same shape and range.
//   - StyleContentModel: a feature extractor over a frozen pre-trained VGG19
//     backbone (see sub-package vgg19), returning Gram-matrix style statistics
//     and raw content activations per named layer, for use in an external
//     perceptual-loss computation.
//
// Only graph construction lives here: training loop, losses and checkpointing
// are the caller's business. Both components are plain GoMLX graph-building
// functions, so they can be freely composed into a larger training graph.
package styletransfer
