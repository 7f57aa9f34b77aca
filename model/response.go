package model

// AnalyzeResult 人脸分析结果
type AnalyzeResult struct {
	MD5          string       `json:"md5"`
	Width        int          `json:"width"`
	Height       int          `json:"height"`
	Faces        []FaceResult `json:"faces"`
	SkinCoverage float64      `json:"skin_coverage"`
	MaskCoverage float64      `json:"mask_coverage"`
	Timestamp    int64        `json:"timestamp"`
}

// FaceResult 单张人脸信息
type FaceResult struct {
	ID        int     `json:"id"`
	BBox      BBox    `json:"bounding_box"`
	Eyes      []BBox  `json:"eyes"`
	MouthHull []Point `json:"mouth_hull,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// AnalyzeResponse 分析接口响应
type AnalyzeResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    *AnalyzeResult `json:"data,omitempty"`
}
