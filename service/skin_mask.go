package service

import (
	"fmt"

	"gocv.io/x/gocv"
)

// HSV 肤色范围（OpenCV 8 位色相刻度），上下界均包含
var (
	skinLower = gocv.NewScalar(0, 20, 70, 0)
	skinUpper = gocv.NewScalar(20, 255, 255, 0)
)

// SkinMaskBuilder 按 HSV 阈值逐像素判断肤色
type SkinMaskBuilder struct{}

func NewSkinMaskBuilder() *SkinMaskBuilder {
	return &SkinMaskBuilder{}
}

// Build 返回 CV8UC1 掩码，肤色像素为 255，其余为 0
func (sb *SkinMaskBuilder) Build(img gocv.Mat) (gocv.Mat, error) {
	if img.Empty() || img.Channels() != 3 {
		return gocv.NewMat(), fmt.Errorf("skin mask: expected 3-channel image, got %d channels", img.Channels())
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	skinMask := gocv.NewMat()
	gocv.InRangeWithScalar(hsv, skinLower, skinUpper, &skinMask)

	return skinMask, nil
}

// Coverage 计算掩码中非零像素占比
func Coverage(mask gocv.Mat) float64 {
	total := mask.Rows() * mask.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(mask)) / float64(total)
}
