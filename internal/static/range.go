package static

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// errRangeMalformed 表示 Range 头无法解析，调用方忽略该头并返回完整正文。
	errRangeMalformed = errors.New("malformed range header")
	// errRangeUnsatisfiable 表示区间落在资源之外，需要返回 416。
	errRangeUnsatisfiable = errors.New("range not satisfiable")
)

// parseRange 解析单段 bytes 区间（a-b、a-、-n），返回闭区间 [start, end]。
// 多段区间视为无法解析。
func parseRange(header string, size int64) (int64, int64, error) {
	header = strings.TrimSpace(header)
	rangeSet, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, errRangeMalformed
	}
	rangeSet = strings.TrimSpace(rangeSet)
	if rangeSet == "" || strings.Contains(rangeSet, ",") {
		return 0, 0, errRangeMalformed
	}

	first, last, ok := strings.Cut(rangeSet, "-")
	if !ok {
		return 0, 0, errRangeMalformed
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	if first == "" {
		suffix, err := strconv.ParseInt(last, 10, 64)
		if err != nil || suffix < 0 {
			return 0, 0, errRangeMalformed
		}
		if suffix == 0 || size == 0 {
			return 0, 0, errRangeUnsatisfiable
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size - 1, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errRangeMalformed
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, errRangeMalformed
		}
		if end >= size {
			end = size - 1
		}
	}
	if start >= size {
		return 0, 0, errRangeUnsatisfiable
	}
	return start, end, nil
}
