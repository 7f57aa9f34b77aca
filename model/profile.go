package model

import "github.com/absconder01/facefilter/config"

const (
	ProfileFace   = "face"
	ProfileGlobal = "global"
)

// Profile 增强策略：平滑强度、饱和度系数以及是否按人脸区域混合
type Profile struct {
	Name       string
	Diameter   int
	SigmaColor float64
	SigmaSpace float64
	BlurKernel int
	Saturation float64
	FaceAware  bool
	// Weight 非人脸模式下的全局混合权重
	Weight float64
}

// NewProfile 由配置构造增强策略
func NewProfile(name string, cfg config.ProfileConfig) Profile {
	return Profile{
		Name:       name,
		Diameter:   cfg.Diameter,
		SigmaColor: cfg.SigmaColor,
		SigmaSpace: cfg.SigmaSpace,
		BlurKernel: cfg.BlurKernel,
		Saturation: cfg.Saturation,
		FaceAware:  name == ProfileFace,
		Weight:     cfg.Weight,
	}
}
