// Package idgen 生成实例标识。
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator 标识生成器，实现必须是并发安全的
type Generator interface {
	Next() string
}

// GeneratorFunc 适配普通函数为 Generator
type GeneratorFunc func() string

func (f GeneratorFunc) Next() string { return f() }

// NewUUIDV4 生成随机 UUID v4，实例 ID 的默认格式
func NewUUIDV4() string {
	return uuid.New().String()
}

// NewUUIDV7 生成时间有序的 UUID v7
func NewUUIDV7() string {
	v7, err := uuid.NewV7()
	if err != nil {
		return NewUUIDV4()
	}
	return v7.String()
}

// UUID 返回 UUID 生成器，version 支持 "v4" | "v7"，默认 v4
func UUID(version string) Generator {
	if version == "v7" {
		return GeneratorFunc(NewUUIDV7)
	}
	return GeneratorFunc(NewUUIDV4)
}

// Sequence 返回带前缀的自增序列生成器，便于测试断言
//
//	gen := idgen.Sequence("inst-") // inst-1, inst-2, ...
func Sequence(prefix string) Generator {
	var n atomic.Uint64
	return GeneratorFunc(func() string {
		return prefix + strconv.FormatUint(n.Add(1), 10)
	})
}
