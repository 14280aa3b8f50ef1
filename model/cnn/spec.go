package cnn

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"

	tensor2d "github.com/sw965/shipsnet/blas32/tensor/2d"
	"github.com/sw965/shipsnet/blas32/vector"
)

type layerKind int

const (
	kindConv2D layerKind = iota
	kindLeakyReLU
	kindMaxPool2D
	kindDropout
	kindFlatten
	kindAffine
	kindSoftmax
)

type layerSpec struct {
	kind layerKind

	filterN    int
	filterRows int
	filterCols int
	isSamePad  bool

	alpha float32
	span  int
	rate  float64
	outN  int
}

// Spec はモデルの層構成を表す値。各メソッドはレシーバーを変更せず、
// 層を追加した新しいSpecを返す。Compileで一度だけ実行可能なModelになる。
type Spec struct {
	inChannels int
	inRows     int
	inCols     int
	layers     []layerSpec
}

func NewSpec(chs, rows, cols int) Spec {
	return Spec{inChannels: chs, inRows: rows, inCols: cols}
}

func (s Spec) append(l layerSpec) Spec {
	layers := slices.Clone(s.layers)
	layers = append(layers, l)
	return Spec{
		inChannels: s.inChannels,
		inRows:     s.inRows,
		inCols:     s.inCols,
		layers:     layers,
	}
}

func (s Spec) Conv2D(filterN, filterRows, filterCols int, isSamePad bool) Spec {
	return s.append(layerSpec{
		kind:       kindConv2D,
		filterN:    filterN,
		filterRows: filterRows,
		filterCols: filterCols,
		isSamePad:  isSamePad,
	})
}

func (s Spec) LeakyReLU(alpha float32) Spec {
	return s.append(layerSpec{kind: kindLeakyReLU, alpha: alpha})
}

func (s Spec) MaxPool2D(span int) Spec {
	return s.append(layerSpec{kind: kindMaxPool2D, span: span})
}

func (s Spec) Dropout(rate float64) Spec {
	return s.append(layerSpec{kind: kindDropout, rate: rate})
}

func (s Spec) Flatten() Spec {
	return s.append(layerSpec{kind: kindFlatten})
}

func (s Spec) Affine(outN int) Spec {
	return s.append(layerSpec{kind: kindAffine, outN: outN})
}

func (s Spec) Softmax() Spec {
	return s.append(layerSpec{kind: kindSoftmax})
}

func newFilterHe(filterN, fanIn int, rng *rand.Rand) Parameter {
	w := tensor2d.NewZeros(filterN, fanIn)
	std := math.Sqrt(2.0 / float64(fanIn))
	for i := range w.Data {
		w.Data[i] = float32(rng.NormFloat64() * std)
	}
	return Parameter{
		Weight: w,
		Bias:   vector.NewZeros(filterN),
	}
}

// Compile は層構成を検証し、形状を推論してパラメーターを初期化する。
func (s Spec) Compile(rng *rand.Rand) (*Model, error) {
	if s.inChannels <= 0 || s.inRows <= 0 || s.inCols <= 0 {
		return nil, fmt.Errorf("invalid input shape (%d, %d, %d)", s.inChannels, s.inRows, s.inCols)
	}

	if len(s.layers) == 0 {
		return nil, fmt.Errorf("empty layer list")
	}

	chs, rows, cols := s.inChannels, s.inRows, s.inCols
	isFlat := false
	flatN := 0
	flattenIdx := -1

	isTrain := new(bool)
	dropoutMu := new(sync.Mutex)

	params := make(Parameters, len(s.layers))
	imageForwards := ImageForwards{}
	vectorForwards := VectorForwards{}
	var predictLoss PredictLoss
	hasSoftmax := false

	for i, l := range s.layers {
		if hasSoftmax {
			return nil, fmt.Errorf("layer %d: Softmax must be the final layer", i-1)
		}
		params[i] = emptyParameter()

		switch l.kind {
		case kindConv2D:
			if isFlat {
				return nil, fmt.Errorf("layer %d: Conv2D after Flatten", i)
			}
			if l.filterN <= 0 || l.filterRows <= 0 || l.filterCols <= 0 {
				return nil, fmt.Errorf("layer %d: invalid Conv2D shape", i)
			}
			if !l.isSamePad && (l.filterRows > rows || l.filterCols > cols) {
				return nil, fmt.Errorf("layer %d: filter %dx%d larger than input %dx%d", i, l.filterRows, l.filterCols, rows, cols)
			}
			params[i] = newFilterHe(l.filterN, chs*l.filterRows*l.filterCols, rng)
			imageForwards = append(imageForwards, newConv2DForward(l.filterRows, l.filterCols, l.isSamePad))
			chs = l.filterN
			if !l.isSamePad {
				rows = rows - l.filterRows + 1
				cols = cols - l.filterCols + 1
			}

		case kindLeakyReLU:
			if isFlat {
				vectorForwards = append(vectorForwards, newLeakyReLU1DForward(l.alpha))
			} else {
				imageForwards = append(imageForwards, newLeakyReLU3DForward(l.alpha))
			}

		case kindMaxPool2D:
			if isFlat {
				return nil, fmt.Errorf("layer %d: MaxPool2D after Flatten", i)
			}
			if l.span <= 0 || rows%l.span != 0 || cols%l.span != 0 {
				return nil, fmt.Errorf("layer %d: pool span %d does not divide input %dx%d", i, l.span, rows, cols)
			}
			imageForwards = append(imageForwards, newMaxPool2DForward(l.span))
			rows /= l.span
			cols /= l.span

		case kindDropout:
			if l.rate < 0.0 || l.rate >= 1.0 {
				return nil, fmt.Errorf("layer %d: dropout rate must be in [0, 1): %f", i, l.rate)
			}
			if isFlat {
				vectorForwards = append(vectorForwards, newDropout1DForward(l.rate, isTrain, rng, dropoutMu))
			} else {
				imageForwards = append(imageForwards, newDropout3DForward(l.rate, isTrain, rng, dropoutMu))
			}

		case kindFlatten:
			if isFlat {
				return nil, fmt.Errorf("layer %d: duplicate Flatten", i)
			}
			isFlat = true
			flatN = chs * rows * cols
			flattenIdx = i

		case kindAffine:
			if !isFlat {
				return nil, fmt.Errorf("layer %d: Affine before Flatten", i)
			}
			if l.outN <= 0 {
				return nil, fmt.Errorf("layer %d: invalid Affine output size %d", i, l.outN)
			}
			params[i] = Parameter{
				Weight: tensor2d.NewHe(flatN, l.outN, rng),
				Bias:   vector.NewZeros(l.outN),
			}
			vectorForwards = append(vectorForwards, affineForward)
			flatN = l.outN

		case kindSoftmax:
			if !isFlat {
				return nil, fmt.Errorf("layer %d: Softmax before Flatten", i)
			}
			vectorForwards = append(vectorForwards, softmaxForOutputForward)
			predictLoss = NewCrossEntropyLossForSoftmax()
			hasSoftmax = true

		default:
			return nil, fmt.Errorf("layer %d: unknown layer kind", i)
		}
	}

	if !hasSoftmax {
		return nil, fmt.Errorf("Softmax output layer is required")
	}

	return &Model{
		Parameters:     params,
		PredictLoss:    predictLoss,
		imageForwards:  imageForwards,
		vectorForwards: vectorForwards,
		flattenIdx:     flattenIdx,
		outN:           flatN,
		isTrain:        isTrain,
	}, nil
}
