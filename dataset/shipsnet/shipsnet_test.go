package shipsnet_test

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/sw965/shipsnet/dataset/shipsnet"
)

func TestDecodeZeros(t *testing.T) {
	raw := make([]float32, shipsnet.RawLen)
	img, err := shipsnet.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}

	if img.Channels != 3 || img.Rows != 80 || img.Cols != 80 {
		t.Fatalf("shape = (%d, %d, %d), want (3, 80, 80)", img.Channels, img.Rows, img.Cols)
	}

	for i, v := range img.Data {
		if v != 0.0 {
			t.Fatalf("img.Data[%d] = %f, want 0", i, v)
		}
	}

	// 全回転もゼロのまま。
	for _, rot := range shipsnet.Rotations(img) {
		for i, v := range rot.Data {
			if v != 0.0 {
				t.Fatalf("rotated Data[%d] = %f, want 0", i, v)
			}
		}
	}
}

func TestDecodeRowMajorOrder(t *testing.T) {
	raw := make([]float32, shipsnet.RawLen)
	for i := 0; i < shipsnet.PixelsPerChannel; i++ {
		raw[i] = float32(i + 1) // 赤ブロックは 1, 2, ..., 6400
	}

	img, err := shipsnet.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}

	if got := img.Data[img.At(0, 0, 0)]; got != 1.0/255.0 {
		t.Errorf("red(0,0) = %f, want %f", got, 1.0/255.0)
	}
	if got := img.Data[img.At(0, 0, 1)]; got != 2.0/255.0 {
		t.Errorf("red(0,1) = %f, want %f", got, 2.0/255.0)
	}
	if got := img.Data[img.At(0, 1, 0)]; got != 81.0/255.0 {
		t.Errorf("red(1,0) = %f, want %f", got, 81.0/255.0)
	}
	if got := img.Data[img.At(1, 0, 0)]; got != 0.0 {
		t.Errorf("green(0,0) = %f, want 0", got)
	}
	if got := img.Data[img.At(2, 79, 79)]; got != 0.0 {
		t.Errorf("blue(79,79) = %f, want 0", got)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	raw := make([]float32, shipsnet.RawLen)
	for i := range raw {
		raw[i] = float32(i * 13 % 256)
	}

	img, err := shipsnet.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}

	for ch := 0; ch < shipsnet.Channels; ch++ {
		for row := 0; row < shipsnet.Rows; row++ {
			for col := 0; col < shipsnet.Cols; col++ {
				rawIdx := ch*shipsnet.PixelsPerChannel + row*shipsnet.Cols + col
				want := raw[rawIdx] / 255.0
				got := img.Data[img.At(ch, row, col)]
				if got != want {
					t.Fatalf("(%d, %d, %d) = %f, want %f", ch, row, col, got, want)
				}
				if got < 0.0 || got > 1.0 {
					t.Fatalf("(%d, %d, %d) = %f out of [0, 1]", ch, row, col, got)
				}
			}
		}
	}
}

func TestDecodeShapeError(t *testing.T) {
	_, err := shipsnet.Decode(make([]float32, 100))
	if !errors.Is(err, shipsnet.ErrShape) {
		t.Fatalf("err = %v, want ErrShape", err)
	}

	_, err = shipsnet.Decode(nil)
	if !errors.Is(err, shipsnet.ErrShape) {
		t.Fatalf("err = %v, want ErrShape", err)
	}
}

func TestOneHot(t *testing.T) {
	ship, err := shipsnet.OneHot(1)
	if err != nil {
		t.Fatal(err)
	}
	if ship.Data[0] != 0.0 || ship.Data[1] != 1.0 {
		t.Errorf("OneHot(1) = %v", ship.Data)
	}

	nonShip, err := shipsnet.OneHot(0)
	if err != nil {
		t.Fatal(err)
	}
	if nonShip.Data[0] != 1.0 || nonShip.Data[1] != 0.0 {
		t.Errorf("OneHot(0) = %v", nonShip.Data)
	}

	if _, err := shipsnet.OneHot(2); err == nil {
		t.Error("OneHot(2) should fail")
	}
	if _, err := shipsnet.OneHot(-1); err == nil {
		t.Error("OneHot(-1) should fail")
	}
}

func newTestDataset(t *testing.T, labels []int) shipsnet.Dataset {
	t.Helper()
	ds := shipsnet.Dataset{}
	for i, label := range labels {
		raw := make([]float32, shipsnet.RawLen)
		for j := range raw {
			raw[j] = float32((i*31 + j*7) % 256)
		}
		img, err := shipsnet.Decode(raw)
		if err != nil {
			t.Fatal(err)
		}
		lv, err := shipsnet.OneHot(label)
		if err != nil {
			t.Fatal(err)
		}
		ds.Images = append(ds.Images, img)
		ds.Labels = append(ds.Labels, lv)
	}
	return ds
}

func TestAugmentLabelDuplication(t *testing.T) {
	ds := newTestDataset(t, []int{1, 0, 1})
	augmented := shipsnet.Augment(ds)

	if augmented.Len() != 12 {
		t.Fatalf("augmented.Len() = %d, want 12", augmented.Len())
	}

	want := []int{1, 1, 1, 1, 0, 0, 0, 0, 1, 1, 1, 1}
	for i, lv := range augmented.Labels {
		got := 0
		if lv.Data[1] == 1.0 {
			got = 1
		}
		if got != want[i] {
			t.Errorf("labels[%d] = %d, want %d", i, got, want[i])
		}
	}
}

func TestAugmentRotationCycle(t *testing.T) {
	ds := newTestDataset(t, []int{1})
	rots := shipsnet.Rotations(ds.Images[0])

	// 90度回転をさらに3回重ねると270度と一致する。
	r270 := rots[1].Rot90().Rot90()
	for i := range r270.Data {
		if r270.Data[i] != rots[3].Data[i] {
			t.Fatalf("rotation mismatch at %d", i)
		}
	}

	// 4回で元に戻る。
	back := rots[1].Rot90().Rot90().Rot90()
	for i := range back.Data {
		if back.Data[i] != ds.Images[0].Data[i] {
			t.Fatalf("cycle mismatch at %d", i)
		}
	}
}

func TestSplit(t *testing.T) {
	ds := newTestDataset(t, []int{0, 1, 0, 1, 0, 1, 0, 1, 0, 1})

	train1, test1, err := shipsnet.Split(ds, 0.2, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	if train1.Len() != 8 || test1.Len() != 2 {
		t.Fatalf("split sizes = (%d, %d), want (8, 2)", train1.Len(), test1.Len())
	}

	// 同じシードなら同じ分割になる。
	train2, test2, err := shipsnet.Split(ds, 0.2, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	for i := range train1.Images {
		if train1.Images[i].Data[0] != train2.Images[i].Data[0] {
			t.Fatal("split is not deterministic")
		}
	}
	for i := range test1.Images {
		if test1.Images[i].Data[0] != test2.Images[i].Data[0] {
			t.Fatal("split is not deterministic")
		}
	}

	if _, _, err := shipsnet.Split(ds, 0.0, rand.New(rand.NewSource(1))); err == nil {
		t.Error("testRatio=0 should fail")
	}
	if _, _, err := shipsnet.Split(ds, 1.0, rand.New(rand.NewSource(1))); err == nil {
		t.Error("testRatio=1 should fail")
	}
}

func writeTempJSON(t *testing.T, s string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shipsnet.json")
	if err := os.WriteFile(path, []byte(s), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFormatError(t *testing.T) {
	path := writeTempJSON(t, `{"labels": [0]}`)
	if _, err := shipsnet.Load(path); !errors.Is(err, shipsnet.ErrFormat) {
		t.Fatalf("missing data: err = %v, want ErrFormat", err)
	}

	path = writeTempJSON(t, `{"data": [[]]}`)
	if _, err := shipsnet.Load(path); !errors.Is(err, shipsnet.ErrFormat) {
		t.Fatalf("missing labels: err = %v, want ErrFormat", err)
	}

	path = writeTempJSON(t, `not json`)
	if _, err := shipsnet.Load(path); !errors.Is(err, shipsnet.ErrFormat) {
		t.Fatalf("broken json: err = %v, want ErrFormat", err)
	}
}

func TestLoadShapeError(t *testing.T) {
	path := writeTempJSON(t, `{"data": [[1, 2, 3]], "labels": [0]}`)
	if _, err := shipsnet.Load(path); !errors.Is(err, shipsnet.ErrShape) {
		t.Fatalf("err = %v, want ErrShape", err)
	}
}
