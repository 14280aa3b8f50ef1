package main

import (
	"log"
	"math/rand"
	"os"

	orand "github.com/sw965/omw/math/rand"

	"github.com/sw965/shipsnet/dataset/shipsnet"
	"github.com/sw965/shipsnet/model/cnn"
	"github.com/sw965/shipsnet/vis"
)

const (
	epochs        = 10
	miniBatchSize = 32
	testRatio     = 0.2
	workers       = 4

	paramsFile = "shipsnet_params.json"
	curveFile  = "learning_curve.png"
	sampleFile = "sample_chip.png"
)

func main() {
	path := "shipsnet.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	log.Printf("loading %s ...", path)
	ds, err := shipsnet.Load(path)
	if err != nil {
		log.Fatalf("load failed: %v", err)
	}
	log.Printf("loaded %d samples", ds.Len())

	// 分割を再現できるようにシードは固定する。
	splitRng := rand.New(rand.NewSource(1))
	train, test, err := shipsnet.Split(ds, testRatio, splitRng)
	if err != nil {
		log.Fatalf("split failed: %v", err)
	}

	// 水増しは訓練側だけ。テスト側まで回すと評価が歪む。
	train = shipsnet.Augment(train)
	log.Printf("train: %d (augmented), test: %d", train.Len(), test.Len())

	if err := vis.SavePNG(train.Images[0], sampleFile); err != nil {
		log.Fatalf("save sample failed: %v", err)
	}

	rng := orand.NewMt19937()
	spec := cnn.NewSpec(shipsnet.Channels, shipsnet.Rows, shipsnet.Cols).
		Conv2D(32, 3, 3, true).
		LeakyReLU(0.1).
		MaxPool2D(2).
		Conv2D(32, 3, 3, true).
		LeakyReLU(0.1).
		MaxPool2D(2).
		Dropout(0.25).
		Flatten().
		Affine(128).
		LeakyReLU(0.1).
		Dropout(0.5).
		Affine(shipsnet.NumClasses).
		Softmax()

	model, err := spec.Compile(rng)
	if err != nil {
		log.Fatalf("compile failed: %v", err)
	}

	opt := cnn.NewAdam(model.Parameters)
	fitConfig := &cnn.FitConfig{
		MiniBatchSize: miniBatchSize,
		Parallel:      workers,
		Rng:           rng,
	}

	losses := make([]float32, 0, epochs)
	accuracies := make([]float32, 0, epochs)

	for epoch := 1; epoch <= epochs; epoch++ {
		loss, err := model.Fit(train.Images, train.Labels, opt, fitConfig)
		if err != nil {
			log.Fatalf("epoch %d failed: %v", epoch, err)
		}

		acc, err := model.Accuracy(test.Images, test.Labels)
		if err != nil {
			log.Fatalf("accuracy failed: %v", err)
		}

		log.Printf("epoch %d: loss=%.4f, test accuracy=%.4f", epoch, loss, acc)
		losses = append(losses, loss)
		accuracies = append(accuracies, acc)
	}

	if err := model.WriteParametersJSON(paramsFile); err != nil {
		log.Fatalf("save parameters failed: %v", err)
	}
	if err := vis.SaveLearningCurve(curveFile, losses, accuracies); err != nil {
		log.Fatalf("save learning curve failed: %v", err)
	}
	log.Printf("done: %s, %s", paramsFile, curveFile)
}
