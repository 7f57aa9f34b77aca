package service

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

const (
	featherKernel = 21
	featherSigma  = 11
)

// MaskCompositor 合并几何掩码与肤色掩码，并羽化为 [0,1] 权重图
type MaskCompositor struct{}

func NewMaskCompositor() *MaskCompositor {
	return &MaskCompositor{}
}

// Composite 返回 CV32FC1 权重图
func (mc *MaskCompositor) Composite(faceMask, skinMask gocv.Mat) (gocv.Mat, error) {
	binary, err := mc.Intersect(faceMask, skinMask)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer binary.Close()

	return mc.Feather(binary), nil
}

// Intersect 逐像素与运算，得到羽化前的二值掩码
func (mc *MaskCompositor) Intersect(faceMask, skinMask gocv.Mat) (gocv.Mat, error) {
	if faceMask.Rows() != skinMask.Rows() || faceMask.Cols() != skinMask.Cols() {
		return gocv.NewMat(), fmt.Errorf("composite: mask size mismatch %dx%d vs %dx%d",
			faceMask.Cols(), faceMask.Rows(), skinMask.Cols(), skinMask.Rows())
	}
	if faceMask.Type() != gocv.MatTypeCV8UC1 || skinMask.Type() != gocv.MatTypeCV8UC1 {
		return gocv.NewMat(), fmt.Errorf("composite: masks must be single channel 8-bit")
	}

	combined := gocv.NewMat()
	gocv.BitwiseAnd(faceMask, skinMask, &combined)
	return combined, nil
}

// Feather 对二值掩码做大核高斯模糊，归一化到 [0,1] 并截断
func (mc *MaskCompositor) Feather(binary gocv.Mat) gocv.Mat {
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(binary, &blurred, image.Point{X: featherKernel, Y: featherKernel},
		featherSigma, featherSigma, gocv.BorderDefault)

	weight := gocv.NewMat()
	blurred.ConvertToWithParams(&weight, gocv.MatTypeCV32F, 1.0/255.0, 0)

	gocv.Threshold(weight, &weight, 1, 1, gocv.ThresholdTrunc)
	gocv.Threshold(weight, &weight, 0, 0, gocv.ThresholdToZero)

	return weight
}
