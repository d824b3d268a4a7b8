package metrics

import (
	"fmt"
	"strconv"
	"strings"
)

// 覆盖 HTTP 请求与模型调用两类耗时，模型调用可能长达数十秒。
var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// histogram 是累积桶直方图，调用方负责加锁。
type histogram struct {
	counts []uint64
	sum    float64
	count  uint64
}

func newHistogram() *histogram {
	return &histogram{counts: make([]uint64, len(defaultBuckets))}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range defaultBuckets {
		if value <= bound {
			h.counts[idx]++
		}
	}
}

// write 输出 _bucket、_sum 与 _count 三组样本，labels 须以逗号结尾或为空。
func (h *histogram) write(builder *strings.Builder, name, labels string) {
	for idx, bound := range defaultBuckets {
		fmt.Fprintf(builder, "%s_bucket{%sle=\"%s\"} %d\n", name, labels, formatFloat(bound), h.counts[idx])
	}
	fmt.Fprintf(builder, "%s_bucket{%sle=\"+Inf\"} %d\n", name, labels, h.count)
	trimmed := strings.TrimSuffix(labels, ",")
	fmt.Fprintf(builder, "%s_sum{%s} %s\n", name, trimmed, formatFloat(h.sum))
	fmt.Fprintf(builder, "%s_count{%s} %d\n", name, trimmed, h.count)
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
