package mbtiles

import "errors"

// 瓦片库错误类型
var (
	// ErrStoreOpen 文件无法作为瓦片库打开
	ErrStoreOpen = errors.New("mbtiles: store open failed")
	// ErrAlreadyExists 创建瓦片库时目标文件已存在
	ErrAlreadyExists = errors.New("mbtiles: store already exists")
	// ErrTileNotFound 直接、重采样、备用源均无此瓦片
	ErrTileNotFound = errors.New("mbtiles: tile not found")
	// ErrInvalidTileFormat 瓦片数据无法解码为图像
	ErrInvalidTileFormat = errors.New("mbtiles: invalid tile format")
	// ErrStoreIO 连接有效但数据库操作失败
	ErrStoreIO = errors.New("mbtiles: store io failed")
)

// IsMiss reports whether err means the tile is unavailable rather than broken.
func IsMiss(err error) bool {
	return errors.Is(err, ErrTileNotFound) || errors.Is(err, ErrInvalidTileFormat) || errors.Is(err, ErrStoreIO)
}
