package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// BytesMD5 返回上传内容的十六进制MD5，用于缓存键
func BytesMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
