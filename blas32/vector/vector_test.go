package vector_test

import (
	"testing"

	"gonum.org/v1/gonum/blas/blas32"

	tensor2d "github.com/sw965/shipsnet/blas32/tensor/2d"
	"github.com/sw965/shipsnet/blas32/vector"
)

func TestAffine(t *testing.T) {
	x := blas32.Vector{N: 2, Inc: 1, Data: []float32{1, 2}}

	w := tensor2d.NewZeros(2, 3)
	copy(w.Data, []float32{
		1, 2, 3,
		4, 5, 6,
	})

	b := blas32.Vector{N: 3, Inc: 1, Data: []float32{1, 1, 1}}

	// y = Wᵀx + b
	y := vector.Affine(x, w, b)
	want := []float32{10, 13, 16}
	for i := range want {
		if y.Data[i] != want[i] {
			t.Errorf("y.Data[%d] = %f, want %f", i, y.Data[i], want[i])
		}
	}
}

func TestClone(t *testing.T) {
	v := blas32.Vector{N: 3, Inc: 1, Data: []float32{1, 2, 3}}
	c := vector.Clone(v)
	c.Data[0] = 99
	if v.Data[0] != 1 {
		t.Error("Clone shares underlying data")
	}
}
