package ctc

import (
	"fmt"
	"strings"
)

// PredictionMatrix 模型输出 [N, T, C]，按行优先平铺
type PredictionMatrix struct {
	Data []float32
	N    int
	T    int
	C    int
}

// NewPredictionMatrix 由平铺的输出数据构造预测矩阵，T 由数据长度推导
func NewPredictionMatrix(data []float32, n, numClasses int) (PredictionMatrix, error) {
	if n <= 0 || numClasses <= 0 {
		return PredictionMatrix{}, fmt.Errorf("非法的预测矩阵维度: n=%d, c=%d", n, numClasses)
	}
	if len(data)%(n*numClasses) != 0 {
		return PredictionMatrix{}, fmt.Errorf("输出长度 %d 无法按 [%d, T, %d] 划分", len(data), n, numClasses)
	}
	return PredictionMatrix{
		Data: data,
		N:    n,
		T:    len(data) / (n * numClasses),
		C:    numClasses,
	}, nil
}

// Argmax 返回第 row 行每个时间步概率最大的类别索引
func (m PredictionMatrix) Argmax(row int) []int {
	indices := make([]int, m.T)
	base := row * m.T * m.C
	for t := 0; t < m.T; t++ {
		step := m.Data[base+t*m.C : base+(t+1)*m.C]
		maxIdx := 0
		maxVal := step[0]
		for idx, val := range step[1:] {
			if val > maxVal {
				maxVal = val
				maxIdx = idx + 1
			}
		}
		indices[t] = maxIdx
	}
	return indices
}

// Converter CTC 标签转换器
type Converter struct {
	alphabet  *Alphabet
	maxLength int
}

// NewConverter 创建转换器，maxLength <= 0 表示不限制输出长度
func NewConverter(alphabet *Alphabet, maxLength int) *Converter {
	return &Converter{
		alphabet:  alphabet,
		maxLength: maxLength,
	}
}

// Alphabet 转换器使用的字符集
func (c *Converter) Alphabet() *Alphabet {
	return c.alphabet
}

// Decode 贪心解码预测矩阵，每行输出一个字符串，顺序与输入一致
func (c *Converter) Decode(m PredictionMatrix) []string {
	lines := make([]string, m.N)
	for i := 0; i < m.N; i++ {
		lines[i] = c.DecodeIndices(m.Argmax(i))
	}
	return lines
}

// DecodeIndices CTC 折叠：跳过空白符（index 0）和连续重复字符
func (c *Converter) DecodeIndices(indices []int) string {
	var sb strings.Builder
	emitted := 0
	lastIdx := -1

	for _, idx := range indices {
		if idx != Blank && idx != lastIdx {
			if sym, ok := c.alphabet.Symbol(idx); ok {
				if c.maxLength > 0 && emitted >= c.maxLength {
					break
				}
				sb.WriteString(sym)
				emitted++
			}
		}
		lastIdx = idx
	}

	return strings.TrimSpace(sb.String())
}
