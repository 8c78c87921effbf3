package vgg19

import (
	"os"
	"path"

	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/data/hdf5"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// WeightsURL is the URL of the Keras VGG19 ImageNet weights, without the
	// classification top -- only the feature column this package builds.
	WeightsURL = "https://storage.googleapis.com/tensorflow/keras-applications/vgg19/vgg19_weights_tf_dim_ordering_tf_kernels_notop.h5"

	// WeightsH5Name is the name of the local ".h5" file with the weights.
	WeightsH5Name = "vgg19_weights_notop.h5"

	// UnpackedWeightsName is the name of the subdirectory that will hold the
	// unpacked weights, one file per tensor.
	UnpackedWeightsName = "gomlx_weights"
)

// DownloadAndUnpackWeights to the given baseDir. It only does the work if the
// files are not there yet; it is quiet if there is nothing to do.
//
// The weights are ~76MB compressed. Network or unpacking failures are returned
// as errors and are fatal to any pre-trained build depending on them -- there
// is no retry here, that's the caller's choice.
func DownloadAndUnpackWeights(baseDir string) error {
	baseDir = data.ReplaceTildeInDir(baseDir)
	unpackedPath := path.Join(baseDir, UnpackedWeightsName)
	if data.FileExists(unpackedPath) {
		// Weights already unpacked, done.
		return nil
	}
	if err := os.MkdirAll(baseDir, 0777); err != nil {
		return errors.Wrapf(err, "vgg19: failed to create weights directory %q", baseDir)
	}

	h5Path := path.Join(baseDir, WeightsH5Name)
	// The Keras release publishes no sha256 for this file, so the download is
	// not checksum-verified.
	if err := data.DownloadIfMissing(WeightsURL, h5Path, ""); err != nil {
		return errors.WithMessagef(err, "vgg19: failed to download weights from %q", WeightsURL)
	}

	klog.Infof("Unpacking VGG19 weights to %s", unpackedPath)
	err := hdf5.UnpackToTensors(unpackedPath, h5Path).ProgressBar().Done()
	if err != nil {
		return errors.WithMessagef(err, "vgg19: failed to unpack weights from %q", h5Path)
	}
	return nil
}

// PathToTensor returns the path of the unpacked file holding tensorName (the
// name within the ".h5" file).
func PathToTensor(baseDir, tensorName string) string {
	baseDir = data.ReplaceTildeInDir(baseDir)
	return path.Join(baseDir, UnpackedWeightsName, tensorName)
}
