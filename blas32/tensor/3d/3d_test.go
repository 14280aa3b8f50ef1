package tensor3d_test

import (
	"testing"

	tensor3d "github.com/sw965/shipsnet/blas32/tensor/3d"
)

func TestAt(t *testing.T) {
	g := tensor3d.NewZeros(3, 4, 5)
	if g.At(0, 0, 0) != 0 {
		t.Errorf("At(0,0,0) = %d", g.At(0, 0, 0))
	}
	if g.At(1, 0, 0) != 20 {
		t.Errorf("At(1,0,0) = %d, want 20", g.At(1, 0, 0))
	}
	if g.At(2, 3, 4) != 59 {
		t.Errorf("At(2,3,4) = %d, want 59", g.At(2, 3, 4))
	}
}

func TestRot90(t *testing.T) {
	// 2x3の1チャネル画像:
	//   1 2 3
	//   4 5 6
	g := tensor3d.NewZeros(1, 2, 3)
	copy(g.Data, []float32{1, 2, 3, 4, 5, 6})

	// 反時計回りに90度:
	//   3 6
	//   2 5
	//   1 4
	want := []float32{3, 6, 2, 5, 1, 4}

	rot := g.Rot90()
	if rot.Rows != 3 || rot.Cols != 2 {
		t.Fatalf("rot shape = (%d, %d), want (3, 2)", rot.Rows, rot.Cols)
	}
	for i := range want {
		if rot.Data[i] != want[i] {
			t.Errorf("rot.Data[%d] = %f, want %f", i, rot.Data[i], want[i])
		}
	}
}

func TestRotCycle(t *testing.T) {
	g := tensor3d.NewZeros(3, 4, 4)
	for i := range g.Data {
		g.Data[i] = float32(i) * 0.25
	}

	cycled := g.Rot90().Rot90().Rot90().Rot90()
	for i := range g.Data {
		if cycled.Data[i] != g.Data[i] {
			t.Fatalf("cycled.Data[%d] = %f, want %f", i, cycled.Data[i], g.Data[i])
		}
	}
}

func TestRot180And270AgreeWithRot90(t *testing.T) {
	g := tensor3d.NewZeros(2, 3, 5)
	for i := range g.Data {
		g.Data[i] = float32(i*7%13) - 6.0
	}

	twice := g.Rot90().Rot90()
	rot180 := g.Rot180()
	for i := range rot180.Data {
		if twice.Data[i] != rot180.Data[i] {
			t.Fatalf("Rot180 != Rot90x2 at %d", i)
		}
	}

	thrice := g.Rot90().Rot90().Rot90()
	rot270 := g.Rot270()
	if rot270.Rows != thrice.Rows || rot270.Cols != thrice.Cols {
		t.Fatalf("Rot270 shape = (%d, %d), want (%d, %d)", rot270.Rows, rot270.Cols, thrice.Rows, thrice.Cols)
	}
	for i := range rot270.Data {
		if thrice.Data[i] != rot270.Data[i] {
			t.Fatalf("Rot270 != Rot90x3 at %d", i)
		}
	}
}

func TestPadUnpadRoundTrip(t *testing.T) {
	g := tensor3d.NewZeros(2, 3, 3)
	for i := range g.Data {
		g.Data[i] = float32(i + 1)
	}

	padded := g.ZeroPadding2D(1, 2, 3, 0)
	if padded.Rows != 6 || padded.Cols != 6 {
		t.Fatalf("padded shape = (%d, %d), want (6, 6)", padded.Rows, padded.Cols)
	}

	back := padded.Unpad2D(1, 2, 3, 0)
	for i := range g.Data {
		if back.Data[i] != g.Data[i] {
			t.Fatalf("back.Data[%d] = %f, want %f", i, back.Data[i], g.Data[i])
		}
	}
}

func TestToCol(t *testing.T) {
	// 1チャネル3x3、2x2フィルター → 4つのウィンドウ。
	g := tensor3d.NewZeros(1, 3, 3)
	copy(g.Data, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})

	col := g.ToCol(2, 2)
	if col.Rows != 4 || col.Cols != 4 {
		t.Fatalf("col shape = (%d, %d), want (4, 4)", col.Rows, col.Cols)
	}

	want := []float32{
		1, 2, 4, 5,
		2, 3, 5, 6,
		4, 5, 7, 8,
		5, 6, 8, 9,
	}
	for i := range want {
		if col.Data[i] != want[i] {
			t.Errorf("col.Data[%d] = %f, want %f", i, col.Data[i], want[i])
		}
	}
}
