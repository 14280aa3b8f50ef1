package cnn

import (
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"
	omwjson "github.com/sw965/omw/json"
	"github.com/sw965/omw/parallel"
	oslices "github.com/sw965/omw/slices"
	"gonum.org/v1/gonum/blas/blas32"

	tensor3d "github.com/sw965/shipsnet/blas32/tensor/3d"
)

type Model struct {
	Parameters  Parameters
	PredictLoss PredictLoss

	imageForwards  ImageForwards
	vectorForwards VectorForwards
	flattenIdx     int
	outN           int
	isTrain        *bool
}

// OutputN は出力ベクトルの長さを返す。
func (m *Model) OutputN() int {
	return m.outN
}

func (m *Model) SetTrain(isTrain bool) {
	*m.isTrain = isTrain
}

// SetParameters は形状が一致する場合のみパラメーターを差し替える。
func (m *Model) SetParameters(ps Parameters) error {
	if len(ps) != len(m.Parameters) {
		return fmt.Errorf("parameter count mismatch: %d, want %d", len(ps), len(m.Parameters))
	}
	for i := range ps {
		old := &m.Parameters[i]
		if ps[i].Weight.Rows != old.Weight.Rows || ps[i].Weight.Cols != old.Weight.Cols || ps[i].Bias.N != old.Bias.N {
			return fmt.Errorf("parameter %d shape mismatch", i)
		}
	}
	m.Parameters = ps.Clone()
	return nil
}

func (m *Model) WriteParametersJSON(path string) error {
	return omwjson.Write[Parameters](&m.Parameters, path)
}

func LoadParametersJSON(path string) (Parameters, error) {
	return omwjson.Load[Parameters](path)
}

func (m *Model) propagate(x tensor3d.General) (blas32.Vector, ImageBackwards, VectorBackwards, tensor3d.General, error) {
	imageBackwards := make(ImageBackwards, len(m.imageForwards))
	var err error
	var ib ImageBackward
	for i, f := range m.imageForwards {
		x, ib, err = f(x, &m.Parameters[i])
		if err != nil {
			return blas32.Vector{}, nil, nil, tensor3d.General{}, err
		}
		imageBackwards[i] = ib
	}

	// Flatten境界。逆伝播時にここで記録した形状へ戻す。
	flatShape := tensor3d.NewZerosLike(x)
	v := x.Flatten()

	vectorBackwards := make(VectorBackwards, len(m.vectorForwards))
	var vb VectorBackward
	for j, f := range m.vectorForwards {
		v, vb, err = f(v, &m.Parameters[m.flattenIdx+1+j])
		if err != nil {
			return blas32.Vector{}, nil, nil, tensor3d.General{}, err
		}
		vectorBackwards[j] = vb
	}
	return v, imageBackwards, vectorBackwards, flatShape, nil
}

func (m *Model) Predict(x tensor3d.General) (blas32.Vector, error) {
	y, _, _, _, err := m.propagate(x)
	return y, err
}

func (m *Model) MeanLoss(xs []tensor3d.General, ts []blas32.Vector) (float32, error) {
	n := len(xs)
	if n != len(ts) {
		return 0.0, fmt.Errorf("batch size mismatch: %d images, %d labels", n, len(ts))
	}
	if n == 0 {
		return 0.0, fmt.Errorf("empty batch")
	}

	sum := float32(0.0)
	for i := range xs {
		y, err := m.Predict(xs[i])
		if err != nil {
			return 0.0, err
		}
		loss, err := m.PredictLoss.Func(y, ts[i])
		if err != nil {
			return 0.0, err
		}
		sum += loss
	}
	return sum / float32(n), nil
}

func (m *Model) Accuracy(xs []tensor3d.General, ts []blas32.Vector) (float32, error) {
	n := len(xs)
	if n != len(ts) {
		return 0.0, fmt.Errorf("batch size mismatch: %d images, %d labels", n, len(ts))
	}
	if n == 0 {
		return 0.0, fmt.Errorf("empty batch")
	}

	correct := 0
	for i := range xs {
		y, err := m.Predict(xs[i])
		if err != nil {
			return 0.0, err
		}
		if oslices.MaxIndices(y.Data)[0] == oslices.MaxIndices(ts[i].Data)[0] {
			correct += 1
		}
	}
	return float32(correct) / float32(n), nil
}

func (m *Model) BackPropagate(x tensor3d.General, t blas32.Vector) (blas32.Vector, GradBuffers, error) {
	y, imageBackwards, vectorBackwards, flatShape, err := m.propagate(x)
	if err != nil {
		return blas32.Vector{}, nil, err
	}

	chain, err := m.PredictLoss.Derivative(y, t)
	if err != nil {
		return blas32.Vector{}, nil, err
	}

	grads := m.Parameters.NewGradsZerosLike()
	var grad GradBuffer

	for j := len(vectorBackwards) - 1; j >= 0; j-- {
		chain, grad, err = vectorBackwards[j](chain)
		if err != nil {
			return blas32.Vector{}, nil, err
		}
		if grad.Weight.Rows != 0 || grad.Bias.N != 0 {
			grads[m.flattenIdx+1+j] = grad
		}
	}

	imgChain := flatShape
	copy(imgChain.Data, chain.Data)

	for i := len(imageBackwards) - 1; i >= 0; i-- {
		imgChain, grad, err = imageBackwards[i](imgChain)
		if err != nil {
			return blas32.Vector{}, nil, err
		}
		if grad.Weight.Rows != 0 || grad.Bias.N != 0 {
			grads[i] = grad
		}
	}

	return y, grads, nil
}

// ComputeGrad はバッチ全体の平均勾配をpワーカーで並列計算する。
func (m *Model) ComputeGrad(xs []tensor3d.General, ts []blas32.Vector, p int) (GradBuffers, error) {
	n := len(xs)
	if n != len(ts) {
		return nil, fmt.Errorf("batch size mismatch: %d images, %d labels", n, len(ts))
	}
	if n == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if p < 1 {
		p = 1
	}

	_, firstGrads, err := m.BackPropagate(xs[0], ts[0])
	if err != nil {
		return nil, err
	}

	if n == 1 {
		return firstGrads, nil
	}

	gradBuffersByParallel := make([]GradBuffers, p)
	for i := range gradBuffersByParallel {
		gradBuffersByParallel[i] = firstGrads.NewZerosLike()
	}

	errCh := make(chan error, p)
	worker := func(workerIdx int, idxs []int) {
		for _, idx := range idxs {
			x := xs[idx+1]
			t := ts[idx+1]
			_, grads, err := m.BackPropagate(x, t)
			if err != nil {
				errCh <- err
				return
			}
			gradBuffersByParallel[workerIdx].Axpy(1.0, grads)
		}
		errCh <- nil
	}

	for workerIdx, idxs := range parallel.DistributeIndicesEvenly(n-1, p) {
		go worker(workerIdx, idxs)
	}

	for i := 0; i < p; i++ {
		if err := <-errCh; err != nil {
			return nil, err
		}
	}

	total := firstGrads.Clone()
	for _, g := range gradBuffersByParallel {
		total.Axpy(1.0, g)
	}
	total.Scal(1.0 / float32(n))
	return total, nil
}

type Adam struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32

	iter int
	m    GradBuffers
	v    GradBuffers
}

func NewAdam(params Parameters) *Adam {
	return &Adam{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
		iter:         0,
		m:            params.NewGradsZerosLike(),
		v:            params.NewGradsZerosLike(),
	}
}

func (a *Adam) Optimizer(model *Model, grads GradBuffers) error {
	if len(model.Parameters) != len(grads) {
		return fmt.Errorf("Adam: parameters/grads size mismatch")
	}

	if len(a.m) == 0 {
		a.m = model.Parameters.NewGradsZerosLike()
		a.v = model.Parameters.NewGradsZerosLike()
	}

	a.iter++
	beta1, beta2 := a.Beta1, a.Beta2
	lrt := a.LearningRate *
		math32.Sqrt(1-math32.Pow(beta2, float32(a.iter))) /
		(1 - math32.Pow(beta1, float32(a.iter)))

	for i := range grads {
		for j, g := range grads[i].Weight.Data {
			a.m[i].Weight.Data[j] += (1 - beta1) * (g - a.m[i].Weight.Data[j])
			a.v[i].Weight.Data[j] += (1 - beta2) * (g*g - a.v[i].Weight.Data[j])

			update := lrt * a.m[i].Weight.Data[j] /
				(math32.Sqrt(a.v[i].Weight.Data[j]) + a.Epsilon)
			model.Parameters[i].Weight.Data[j] -= update
		}
		for j, g := range grads[i].Bias.Data {
			a.m[i].Bias.Data[j] += (1 - beta1) * (g - a.m[i].Bias.Data[j])
			a.v[i].Bias.Data[j] += (1 - beta2) * (g*g - a.v[i].Bias.Data[j])

			update := lrt * a.m[i].Bias.Data[j] /
				(math32.Sqrt(a.v[i].Bias.Data[j]) + a.Epsilon)
			model.Parameters[i].Bias.Data[j] -= update
		}
	}
	return nil
}

type FitConfig struct {
	MiniBatchSize int
	Parallel      int
	Rng           *rand.Rand
}

// Fit は訓練データを1周する。ミニバッチ毎にComputeGradとoptで更新し、
// バッチ損失の加重平均を返す。
func (m *Model) Fit(xs []tensor3d.General, ts []blas32.Vector, opt *Adam, c *FitConfig) (float32, error) {
	n := len(xs)
	if n != len(ts) {
		return 0.0, fmt.Errorf("batch size mismatch: %d images, %d labels", n, len(ts))
	}
	if n == 0 {
		return 0.0, fmt.Errorf("empty training data")
	}
	if c.MiniBatchSize <= 0 {
		return 0.0, fmt.Errorf("invalid mini batch size: %d", c.MiniBatchSize)
	}
	if c.Rng == nil {
		return 0.0, fmt.Errorf("rng is required")
	}

	m.SetTrain(true)
	defer m.SetTrain(false)

	perm := c.Rng.Perm(n)
	lossSum := float32(0.0)

	for start := 0; start < n; start += c.MiniBatchSize {
		end := start + c.MiniBatchSize
		if end > n {
			end = n
		}

		batchXs := make([]tensor3d.General, 0, end-start)
		batchTs := make([]blas32.Vector, 0, end-start)
		for _, idx := range perm[start:end] {
			batchXs = append(batchXs, xs[idx])
			batchTs = append(batchTs, ts[idx])
		}

		loss, err := m.MeanLoss(batchXs, batchTs)
		if err != nil {
			return 0.0, err
		}
		lossSum += loss * float32(end-start)

		grads, err := m.ComputeGrad(batchXs, batchTs, c.Parallel)
		if err != nil {
			return 0.0, err
		}

		if err := opt.Optimizer(m, grads); err != nil {
			return 0.0, err
		}
	}
	return lossSum / float32(n), nil
}
