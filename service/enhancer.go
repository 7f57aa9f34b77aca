package service

import (
	"fmt"
	"image"
	"math"

	"github.com/absconder01/facefilter/model"
	"gocv.io/x/gocv"
)

// ColorEnhancer 磨皮并提升饱和度，结果与掩码无关
type ColorEnhancer struct{}

func NewColorEnhancer() *ColorEnhancer {
	return &ColorEnhancer{}
}

// Enhance 依次执行双边滤波、高斯模糊和饱和度提升，返回新的 BGR 图像
func (ce *ColorEnhancer) Enhance(img gocv.Mat, p model.Profile) (gocv.Mat, error) {
	if img.Empty() || img.Channels() != 3 {
		return gocv.NewMat(), fmt.Errorf("enhance: expected 3-channel image")
	}
	if p.BlurKernel <= 0 || p.BlurKernel%2 == 0 {
		return gocv.NewMat(), fmt.Errorf("enhance: blur kernel must be odd and positive, got %d", p.BlurKernel)
	}

	smooth := gocv.NewMat()
	defer smooth.Close()
	gocv.BilateralFilter(img, &smooth, p.Diameter, p.SigmaColor, p.SigmaSpace)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(smooth, &blurred, image.Point{X: p.BlurKernel, Y: p.BlurKernel}, 0, 0, gocv.BorderDefault)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(blurred, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	table := SaturationTable(p.Saturation)
	lut, err := gocv.NewMatFromBytes(1, len(table), gocv.MatTypeCV8U, table[:])
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("enhance: %w", err)
	}
	defer lut.Close()

	saturated := gocv.NewMat()
	defer saturated.Close()
	gocv.LUT(channels[1], lut, &saturated)

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge([]gocv.Mat{channels[0], saturated, channels[2]}, &merged)

	enhanced := gocv.NewMat()
	gocv.CvtColor(merged, &enhanced, gocv.ColorHSVToBGR)

	return enhanced, nil
}

// SaturationTable 饱和度查找表：浮点相乘后截断到 [0,255] 再取整
func SaturationTable(factor float64) [256]uint8 {
	var table [256]uint8
	for s := range table {
		v := math.Round(float64(s) * factor)
		table[s] = uint8(math.Max(0, math.Min(255, v)))
	}
	return table
}
