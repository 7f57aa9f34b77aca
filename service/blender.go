package service

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Blender 按权重图线性混合原图和增强图
type Blender struct{}

func NewBlender() *Blender {
	return &Blender{}
}

// Blend 逐像素计算 enhanced*w + original*(1-w)，w 为 CV32FC1 权重图
func (bl *Blender) Blend(original, enhanced, weight gocv.Mat) (gocv.Mat, error) {
	if err := sameShape(original, enhanced); err != nil {
		return gocv.NewMat(), err
	}
	if weight.Rows() != original.Rows() || weight.Cols() != original.Cols() {
		return gocv.NewMat(), fmt.Errorf("blend: weight size %dx%d does not match image %dx%d",
			weight.Cols(), weight.Rows(), original.Cols(), original.Rows())
	}
	if weight.Type() != gocv.MatTypeCV32FC1 {
		return gocv.NewMat(), fmt.Errorf("blend: weight must be CV32FC1")
	}

	orig32 := gocv.NewMat()
	defer orig32.Close()
	original.ConvertTo(&orig32, gocv.MatTypeCV32FC3)

	enh32 := gocv.NewMat()
	defer enh32.Close()
	enhanced.ConvertTo(&enh32, gocv.MatTypeCV32FC3)

	w3 := gocv.NewMat()
	defer w3.Close()
	gocv.Merge([]gocv.Mat{weight, weight, weight}, &w3)

	inv := w3.Clone()
	defer inv.Close()
	inv.MultiplyFloat(-1)
	inv.AddFloat(1)

	a := gocv.NewMat()
	defer a.Close()
	gocv.Multiply(enh32, w3, &a)

	b := gocv.NewMat()
	defer b.Close()
	gocv.Multiply(orig32, inv, &b)

	sum := gocv.NewMat()
	defer sum.Close()
	gocv.Add(a, b, &sum)

	out := gocv.NewMat()
	sum.ConvertTo(&out, gocv.MatTypeCV8UC3)
	return out, nil
}

// BlendUniform 整图使用同一权重混合，用于非人脸模式
func (bl *Blender) BlendUniform(original, enhanced gocv.Mat, weight float64) (gocv.Mat, error) {
	if err := sameShape(original, enhanced); err != nil {
		return gocv.NewMat(), err
	}
	if weight < 0 || weight > 1 {
		return gocv.NewMat(), fmt.Errorf("blend: weight %.3f out of [0,1]", weight)
	}
	out := gocv.NewMat()
	gocv.AddWeighted(original, 1-weight, enhanced, weight, 0, &out)
	return out, nil
}

func sameShape(a, b gocv.Mat) error {
	if a.Empty() || b.Empty() {
		return fmt.Errorf("blend: empty image")
	}
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() || a.Type() != b.Type() {
		return fmt.Errorf("blend: image shape mismatch %dx%d vs %dx%d", a.Cols(), a.Rows(), b.Cols(), b.Rows())
	}
	return nil
}
