package cache

import (
	"reflect"
	"unsafe"
)

// EstimateSize 递归估算值占用的字节数
// 携带已访问指针集合做环检测,循环引用的结构也能返回真实的有界估算,
// 而不是退化为一个常量猜测
func EstimateSize(v interface{}) int64 {
	if v == nil {
		return 0
	}
	visited := make(map[uintptr]bool)
	return estimateValue(reflect.ValueOf(v), visited)
}

func estimateValue(val reflect.Value, visited map[uintptr]bool) int64 {
	if !val.IsValid() {
		return 0
	}

	switch val.Kind() {
	case reflect.String:
		return int64(unsafe.Sizeof("")) + int64(val.Len())

	case reflect.Slice:
		if val.IsNil() {
			return int64(val.Type().Size())
		}
		size := int64(val.Type().Size())
		for i := 0; i < val.Len(); i++ {
			size += estimateValue(val.Index(i), visited)
		}
		return size

	case reflect.Array:
		var size int64
		for i := 0; i < val.Len(); i++ {
			size += estimateValue(val.Index(i), visited)
		}
		return size

	case reflect.Map:
		if val.IsNil() {
			return int64(val.Type().Size())
		}
		ptr := val.Pointer()
		if visited[ptr] {
			return 0
		}
		visited[ptr] = true

		size := int64(val.Type().Size())
		iter := val.MapRange()
		for iter.Next() {
			size += estimateValue(iter.Key(), visited)
			size += estimateValue(iter.Value(), visited)
		}
		return size

	case reflect.Ptr:
		if val.IsNil() {
			return int64(val.Type().Size())
		}
		ptr := val.Pointer()
		if visited[ptr] {
			return int64(val.Type().Size())
		}
		visited[ptr] = true
		return int64(val.Type().Size()) + estimateValue(val.Elem(), visited)

	case reflect.Interface:
		if val.IsNil() {
			return int64(val.Type().Size())
		}
		return int64(val.Type().Size()) + estimateValue(val.Elem(), visited)

	case reflect.Struct:
		var size int64
		for i := 0; i < val.NumField(); i++ {
			size += estimateValue(val.Field(i), visited)
		}
		if size == 0 {
			size = int64(val.Type().Size())
		}
		return size

	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		// 不可遍历的类型只计头部大小
		return int64(val.Type().Size())

	default:
		// 数值、布尔等标量类型
		return int64(val.Type().Size())
	}
}
