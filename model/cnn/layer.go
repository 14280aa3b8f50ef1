package cnn

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/chewxy/math32"
	omath "github.com/sw965/omw/math"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	tensor2d "github.com/sw965/shipsnet/blas32/tensor/2d"
	tensor3d "github.com/sw965/shipsnet/blas32/tensor/3d"
	"github.com/sw965/shipsnet/blas32/vector"
)

type GradBuffer struct {
	Weight blas32.General
	Bias   blas32.Vector
}

func (g *GradBuffer) NewZerosLike() GradBuffer {
	return GradBuffer{
		Weight: tensor2d.NewZerosLike(g.Weight),
		Bias:   vector.NewZerosLike(g.Bias),
	}
}

func (g GradBuffer) Clone() GradBuffer {
	return GradBuffer{
		Weight: tensor2d.Clone(g.Weight),
		Bias:   vector.Clone(g.Bias),
	}
}

func (g *GradBuffer) Axpy(alpha float32, x *GradBuffer) {
	if x.Weight.Rows != 0 {
		tensor2d.Axpy(alpha, x.Weight, g.Weight)
	}

	if x.Bias.N != 0 {
		blas32.Axpy(alpha, x.Bias, g.Bias)
	}
}

func (g *GradBuffer) Scal(alpha float32) {
	if g.Weight.Rows != 0 {
		tensor2d.Scal(alpha, g.Weight)
	}

	if g.Bias.N != 0 {
		blas32.Scal(alpha, g.Bias)
	}
}

type GradBuffers []GradBuffer

func (gs GradBuffers) NewZerosLike() GradBuffers {
	zeros := make(GradBuffers, len(gs))
	for i, g := range gs {
		zeros[i] = g.NewZerosLike()
	}
	return zeros
}

func (gs GradBuffers) Clone() GradBuffers {
	clone := make(GradBuffers, len(gs))
	for i, g := range gs {
		clone[i] = g.Clone()
	}
	return clone
}

func (gs GradBuffers) Axpy(alpha float32, xs GradBuffers) {
	for i := range gs {
		gs[i].Axpy(alpha, &xs[i])
	}
}

func (gs GradBuffers) Scal(alpha float32) {
	for i := range gs {
		gs[i].Scal(alpha)
	}
}

type Parameter struct {
	Weight blas32.General
	Bias   blas32.Vector
}

func (p *Parameter) NewGradZerosLike() GradBuffer {
	return GradBuffer{
		Weight: tensor2d.NewZerosLike(p.Weight),
		Bias:   vector.NewZerosLike(p.Bias),
	}
}

func (p *Parameter) Clone() Parameter {
	return Parameter{
		Weight: tensor2d.Clone(p.Weight),
		Bias:   vector.Clone(p.Bias),
	}
}

func (p *Parameter) AxpyGrad(alpha float32, grad *GradBuffer) {
	if p.Weight.Rows != 0 {
		tensor2d.Axpy(alpha, grad.Weight, p.Weight)
	}

	if p.Bias.N != 0 {
		blas32.Axpy(alpha, grad.Bias, p.Bias)
	}
}

type Parameters []Parameter

func (ps Parameters) NewGradsZerosLike() GradBuffers {
	grads := make(GradBuffers, len(ps))
	for i := range ps {
		grads[i] = ps[i].NewGradZerosLike()
	}
	return grads
}

func (ps Parameters) Clone() Parameters {
	clone := make(Parameters, len(ps))
	for i := range ps {
		clone[i] = ps[i].Clone()
	}
	return clone
}

func (ps Parameters) AxpyGrads(alpha float32, grads GradBuffers) {
	for i := range ps {
		ps[i].AxpyGrad(alpha, &grads[i])
	}
}

func emptyParameter() Parameter {
	return Parameter{
		Weight: blas32.General{Rows: 0, Cols: 0, Stride: 0, Data: []float32{}},
		Bias:   blas32.Vector{N: 0, Inc: 0, Data: []float32{}},
	}
}

type ImageForward func(tensor3d.General, *Parameter) (tensor3d.General, ImageBackward, error)
type ImageForwards []ImageForward

type ImageBackward func(tensor3d.General) (tensor3d.General, GradBuffer, error)
type ImageBackwards []ImageBackward

type VectorForward func(blas32.Vector, *Parameter) (blas32.Vector, VectorBackward, error)
type VectorForwards []VectorForward

type VectorBackward func(blas32.Vector) (blas32.Vector, GradBuffer, error)
type VectorBackwards []VectorBackward

func dotResultToImage(result blas32.General, outRows, outCols int) (tensor3d.General, error) {
	if result.Rows != outRows*outCols {
		err := fmt.Errorf("dimension mismatch: result.Rows=%d, want %d (=outRows*outCols)", result.Rows, outRows*outCols)
		return tensor3d.General{}, err
	}

	img := tensor3d.NewZeros(result.Cols, outRows, outCols)

	for row := 0; row < outRows; row++ {
		for col := 0; col < outCols; col++ {
			base := (row*outCols + col) * result.Stride
			for ch := 0; ch < result.Cols; ch++ {
				img.Data[img.At(ch, row, col)] = result.Data[base+ch]
			}
		}
	}
	return img, nil
}

func imageToDotResult(img tensor3d.General) blas32.General {
	result := tensor2d.NewZeros(img.Rows*img.Cols, img.Channels)
	for row := 0; row < img.Rows; row++ {
		for col := 0; col < img.Cols; col++ {
			base := (row*img.Cols + col) * result.Stride
			for ch := 0; ch < img.Channels; ch++ {
				result.Data[base+ch] = img.Data[img.At(ch, row, col)]
			}
		}
	}
	return result
}

// Weight は (フィルター数, 入力チャネル×filterRows×filterCols) の行列として持つ。
func newConv2DForward(filterRows, filterCols int, isSamePad bool) ImageForward {
	return func(x tensor3d.General, param *Parameter) (tensor3d.General, ImageBackward, error) {
		filterN := param.Weight.Rows
		if filterN != param.Bias.N {
			return tensor3d.General{}, nil, fmt.Errorf("filter count != bias length")
		}

		var top, bot, left, right int
		padded := x
		if isSamePad {
			top = (filterRows - 1) / 2
			bot = filterRows - 1 - top
			left = (filterCols - 1) / 2
			right = filterCols - 1 - left
			padded = x.ZeroPadding2D(top, bot, left, right)
		}

		if padded.Rows < filterRows || padded.Cols < filterCols {
			return tensor3d.General{}, nil, fmt.Errorf("filter %dx%d larger than input %dx%d", filterRows, filterCols, padded.Rows, padded.Cols)
		}

		col := padded.ToCol(filterRows, filterCols)
		outRows := padded.ConvOutputRows(filterRows)
		outCols := padded.ConvOutputCols(filterCols)

		dot := tensor2d.NewZeros(col.Rows, filterN)
		for row := 0; row < dot.Rows; row++ {
			base := row * dot.Stride
			for c := 0; c < filterN; c++ {
				dot.Data[base+c] += param.Bias.Data[c]
			}
		}
		blas32.Gemm(blas.NoTrans, blas.Trans, 1.0, col, param.Weight, 1.0, dot)

		y, err := dotResultToImage(dot, outRows, outCols)
		if err != nil {
			return tensor3d.General{}, nil, err
		}

		var backward ImageBackward
		backward = func(chain tensor3d.General) (tensor3d.General, GradBuffer, error) {
			dOut := imageToDotResult(chain)
			db := tensor2d.Sum0(dOut)
			dw := tensor2d.Dot(blas.Trans, blas.NoTrans, dOut, col)
			dCol := tensor2d.Dot(blas.NoTrans, blas.NoTrans, dOut, param.Weight)

			dx := tensor2d.Col2Im(dCol, tensor3d.NewZerosLike(padded), filterRows, filterCols)
			if isSamePad {
				dx = dx.Unpad2D(top, bot, left, right)
			}

			grad := GradBuffer{Weight: dw, Bias: db}
			return dx, grad, nil
		}
		return y, backward, nil
	}
}

func newLeakyReLU3DForward(alpha float32) ImageForward {
	return func(x tensor3d.General, _ *Parameter) (tensor3d.General, ImageBackward, error) {
		y := tensor3d.NewZerosLike(x)
		for i, e := range x.Data {
			if e > 0 {
				y.Data[i] = e
			} else {
				y.Data[i] = alpha * e
			}
		}

		var backward ImageBackward
		backward = func(chain tensor3d.General) (tensor3d.General, GradBuffer, error) {
			dx := tensor3d.NewZerosLike(chain)
			for i, e := range x.Data {
				if e > 0 {
					dx.Data[i] = chain.Data[i]
				} else {
					dx.Data[i] = alpha * chain.Data[i]
				}
			}
			return dx, GradBuffer{}, nil
		}
		return y, backward, nil
	}
}

// 重複なしのウィンドウでのMax Pooling。spanは入力の行数・列数を割り切る必要がある。
func newMaxPool2DForward(span int) ImageForward {
	return func(x tensor3d.General, _ *Parameter) (tensor3d.General, ImageBackward, error) {
		if x.Rows%span != 0 || x.Cols%span != 0 {
			return tensor3d.General{}, nil, fmt.Errorf("pool span %d does not divide input %dx%d", span, x.Rows, x.Cols)
		}

		outRows := x.Rows / span
		outCols := x.Cols / span
		y := tensor3d.NewZeros(x.Channels, outRows, outCols)
		argmax := make([]int, y.N())

		for ch := 0; ch < x.Channels; ch++ {
			for or := 0; or < outRows; or++ {
				for oc := 0; oc < outCols; oc++ {
					maxIdx := x.At(ch, or*span, oc*span)
					maxV := x.Data[maxIdx]
					for fr := 0; fr < span; fr++ {
						for fc := 0; fc < span; fc++ {
							idx := x.At(ch, or*span+fr, oc*span+fc)
							if x.Data[idx] > maxV {
								maxV = x.Data[idx]
								maxIdx = idx
							}
						}
					}
					yIdx := y.At(ch, or, oc)
					y.Data[yIdx] = maxV
					argmax[yIdx] = maxIdx
				}
			}
		}

		var backward ImageBackward
		backward = func(chain tensor3d.General) (tensor3d.General, GradBuffer, error) {
			dx := tensor3d.NewZerosLike(x)
			for yIdx, xIdx := range argmax {
				dx.Data[xIdx] += chain.Data[yIdx]
			}
			return dx, GradBuffer{}, nil
		}
		return y, backward, nil
	}
}

// rate > rng.Float64() の要素を訓練時に落とす。推論時は(1-rate)倍する。
// rngは勾配計算のワーカー間で共有されるため、mask生成はロックで守る。
func newDropout3DForward(rate float64, isTrain *bool, rng *rand.Rand, mu *sync.Mutex) ImageForward {
	return func(x tensor3d.General, _ *Parameter) (tensor3d.General, ImageBackward, error) {
		y := tensor3d.NewZerosLike(x)
		mask := make([]float32, len(x.Data))
		if *isTrain {
			mu.Lock()
			for i := range mask {
				if rate > rng.Float64() {
					mask[i] = 0.0
				} else {
					mask[i] = 1.0
				}
			}
			mu.Unlock()
		} else {
			q := float32(1.0 - rate)
			for i := range mask {
				mask[i] = q
			}
		}

		for i, e := range x.Data {
			y.Data[i] = e * mask[i]
		}

		var backward ImageBackward
		backward = func(chain tensor3d.General) (tensor3d.General, GradBuffer, error) {
			dx := tensor3d.NewZerosLike(chain)
			for i, c := range chain.Data {
				dx.Data[i] = c * mask[i]
			}
			return dx, GradBuffer{}, nil
		}
		return y, backward, nil
	}
}

func newDropout1DForward(rate float64, isTrain *bool, rng *rand.Rand, mu *sync.Mutex) VectorForward {
	return func(x blas32.Vector, _ *Parameter) (blas32.Vector, VectorBackward, error) {
		y := vector.NewZerosLike(x)
		mask := make([]float32, x.N)
		if *isTrain {
			mu.Lock()
			for i := range mask {
				if rate > rng.Float64() {
					mask[i] = 0.0
				} else {
					mask[i] = 1.0
				}
			}
			mu.Unlock()
		} else {
			q := float32(1.0 - rate)
			for i := range mask {
				mask[i] = q
			}
		}

		for i, e := range x.Data {
			y.Data[i] = e * mask[i]
		}

		var backward VectorBackward
		backward = func(chain blas32.Vector) (blas32.Vector, GradBuffer, error) {
			dx := vector.NewZerosLike(chain)
			for i, c := range chain.Data {
				dx.Data[i] = c * mask[i]
			}
			return dx, GradBuffer{}, nil
		}
		return y, backward, nil
	}
}

func affineForward(x blas32.Vector, param *Parameter) (blas32.Vector, VectorBackward, error) {
	yn := param.Weight.Cols
	y := blas32.Vector{N: yn, Inc: 1, Data: make([]float32, yn)}
	blas32.Copy(param.Bias, y)
	blas32.Gemv(blas.Trans, 1.0, param.Weight, x, 1.0, y)

	var backward VectorBackward
	backward = func(chain blas32.Vector) (blas32.Vector, GradBuffer, error) {
		wRows := param.Weight.Rows
		wCols := param.Weight.Cols

		dx := blas32.Vector{
			N:    wRows,
			Inc:  1,
			Data: make([]float32, wRows),
		}
		blas32.Gemv(blas.NoTrans, 1.0, param.Weight, chain, 1.0, dx)

		dw := blas32.General{
			Rows:   wRows,
			Cols:   wCols,
			Stride: wCols,
			Data:   make([]float32, wRows*wCols),
		}
		blas32.Ger(1.0, x, chain, dw)

		db := blas32.Vector{
			N:    chain.N,
			Inc:  1,
			Data: make([]float32, chain.N),
		}
		blas32.Copy(chain, db)

		grad := GradBuffer{
			Weight: dw,
			Bias:   db,
		}
		return dx, grad, nil
	}
	return y, backward, nil
}

func newLeakyReLU1DForward(alpha float32) VectorForward {
	return func(x blas32.Vector, _ *Parameter) (blas32.Vector, VectorBackward, error) {
		xData := x.Data
		yData := make([]float32, x.N)
		for i := range yData {
			e := xData[i]
			if e > 0 {
				yData[i] = e
			} else {
				yData[i] = alpha * e
			}
		}

		y := blas32.Vector{
			N:    x.N,
			Inc:  x.Inc,
			Data: yData,
		}

		var backward VectorBackward
		backward = func(chain blas32.Vector) (blas32.Vector, GradBuffer, error) {
			chainData := chain.Data
			dxData := make([]float32, chain.N)
			for i, e := range xData {
				if e > 0 {
					dxData[i] = chainData[i]
				} else {
					dxData[i] = alpha * chainData[i]
				}
			}
			dx := blas32.Vector{
				N:    chain.N,
				Inc:  chain.Inc,
				Data: dxData,
			}
			return dx, GradBuffer{}, nil
		}

		return y, backward, nil
	}
}

func softmaxForOutputForward(x blas32.Vector, _ *Parameter) (blas32.Vector, VectorBackward, error) {
	xData := x.Data
	maxX := omath.Max(xData...) // オーバーフロー対策
	expX := make([]float32, x.N)
	sumExpX := float32(0.0)
	for i, e := range xData {
		expX[i] = math32.Exp(e - maxX)
		sumExpX += expX[i]
	}

	yData := make([]float32, x.N)
	for i := range expX {
		yData[i] = expX[i] / sumExpX
	}

	y := blas32.Vector{
		N:    x.N,
		Inc:  x.Inc,
		Data: yData,
	}

	var backward VectorBackward
	backward = func(chain blas32.Vector) (blas32.Vector, GradBuffer, error) {
		//クロスエントロピーが損失関数である事を前提
		dx := chain
		return dx, GradBuffer{}, nil
	}
	return y, backward, nil
}

type PredictLoss struct {
	Func       func(blas32.Vector, blas32.Vector) (float32, error)
	Derivative func(blas32.Vector, blas32.Vector) (blas32.Vector, error)
}

func NewCrossEntropyLossForSoftmax() PredictLoss {
	f := func(y, t blas32.Vector) (float32, error) {
		if y.N != t.N {
			return 0.0, fmt.Errorf("y.N != t.N")
		}
		loss := float32(0.0)
		e := float32(0.0001)
		for i := range y.Data {
			ye := omath.Max(y.Data[i], e)
			te := t.Data[i]
			loss += -te * math32.Log(ye)
		}
		return loss, nil
	}

	d := func(y, t blas32.Vector) (blas32.Vector, error) {
		if y.N != t.N {
			return blas32.Vector{}, fmt.Errorf("y.N != t.N")
		}
		dx := blas32.Vector{
			N:    y.N,
			Inc:  y.Inc,
			Data: make([]float32, y.N),
		}
		blas32.Copy(y, dx)
		blas32.Axpy(-1.0, t, dx)
		return dx, nil
	}

	return PredictLoss{
		Func:       f,
		Derivative: d,
	}
}
