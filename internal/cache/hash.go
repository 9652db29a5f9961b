package cache

import (
	"crypto/md5"
	"encoding/hex"
)

// BytesMD5 is the cache identity of an uploaded image.
func BytesMD5(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}
