package cache

// TrimSegments 将按顺序排列的分段视图裁剪为 [start, endInclusive] 区间。
// 先按累计偏移截断终点（越过终点后的分段长度置 0），再从头消费前导字节直到累计达到 start。
// 返回新的视图切片，入参及其底层字节都不会被修改。
func TrimSegments(views [][]byte, start, endInclusive int64) [][]byte {
	out := make([][]byte, len(views))
	copy(out, views)

	end := endInclusive + 1
	var offset int64
	endReached := false
	for i, view := range out {
		if endReached {
			out[i] = view[:0]
			continue
		}
		n := int64(len(view))
		if offset+n >= end {
			out[i] = view[:end-offset]
			endReached = true
		}
		offset += n
	}

	var consumed int64
	for i, view := range out {
		if consumed >= start {
			break
		}
		skip := int64(len(view))
		if remaining := start - consumed; remaining < skip {
			skip = remaining
		}
		out[i] = view[skip:]
		consumed += skip
	}
	return out
}
