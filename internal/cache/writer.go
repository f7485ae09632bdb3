package cache

import (
	"io"

	"github.com/any-hub/static-hub/internal/buffercache"
)

// populateWriter 包装下游 sink：下游接受的每个字节同时追加到缓存条目。
// 缓存写入出错后只记录错误并停止追加，下游输出不受影响。
type populateWriter struct {
	sink    io.Writer
	entry   *buffercache.Entry
	written int64
	err     error
}

func newPopulateWriter(sink io.Writer, entry *buffercache.Entry) *populateWriter {
	return &populateWriter{sink: sink, entry: entry}
}

func (p *populateWriter) Write(b []byte) (int, error) {
	n, err := p.sink.Write(b)
	if n > 0 {
		p.written += int64(n)
		if p.err == nil {
			if _, cacheErr := p.entry.Write(b[:n]); cacheErr != nil {
				p.err = cacheErr
			}
		}
	}
	return n, err
}

// Err 返回缓存写入遇到的第一个错误。
func (p *populateWriter) Err() error {
	return p.err
}

// Written 返回已写给下游的字节数。
func (p *populateWriter) Written() int64 {
	return p.written
}
