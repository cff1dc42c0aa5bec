// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"os"

	"github.com/microsoft/sbc-image-tools/imagegen/configuration"
	"github.com/microsoft/sbc-image-tools/internal/exe"
	"github.com/microsoft/sbc-image-tools/internal/logger"
	"github.com/microsoft/sbc-image-tools/pkg/imagewriterlib"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app = kingpin.New("imagewriter", "Converts a prepared root filesystem tree into a bootable SBC disk image")

	sourceDir       = app.Flag("source-dir", "Directory containing the prepared root filesystem tree.").Required().String()
	outputImageFile = app.Flag("output-image-file", "Path to write the image to.").Required().String()
	buildDir        = app.Flag("build-dir", "Directory to run the build out of.").Default(os.TempDir()).String()
	profileFile     = app.Flag("profile-file", "Path of an image layout profile file.").String()
	logFlags        = exe.SetupLogFlags(app)
)

func main() {
	app.Version(imagewriterlib.ToolVersion)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger.InitBestEffort(logFlags)

	err := writeImage()
	if err != nil {
		logger.Log.Fatalf("image write failed:\n%v", err)
	}
}

func writeImage() error {
	profile := configuration.DefaultProfile()
	if *profileFile != "" {
		loadedProfile, err := configuration.LoadProfileFile(*profileFile)
		if err != nil {
			return err
		}
		profile = loadedProfile
	}

	return imagewriterlib.WriteImage(context.Background(), *buildDir, *sourceDir, *outputImageFile, profile)
}
