package ctc

import (
	"fmt"

	"github.com/getcharzp/receipt-ocr/internal/util"
)

// Blank CTC 空白符索引
const Blank = 0

// DefaultCharacters 默认字符集：数字 + 大小写字母 + 英文标点
const DefaultCharacters = "0123456789" +
	"abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Alphabet 有序字符集，索引 0 保留给空白符
type Alphabet struct {
	symbols []string
	index   map[string]int
}

// NewAlphabet 根据字符列表创建字符集，字符不可为空且不可重复
func NewAlphabet(symbols []string) (*Alphabet, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("字符集为空")
	}

	a := &Alphabet{
		symbols: make([]string, len(symbols)),
		index:   make(map[string]int, len(symbols)),
	}
	for i, s := range symbols {
		if s == "" {
			return nil, fmt.Errorf("第 %d 个字符为空", i)
		}
		if _, ok := a.index[s]; ok {
			return nil, fmt.Errorf("字符 %q 重复", s)
		}
		a.symbols[i] = s
		// 真实字符从 1 开始编号
		a.index[s] = i + 1
	}
	return a, nil
}

// FromString 按 rune 拆分字符串创建字符集
func FromString(chars string) (*Alphabet, error) {
	symbols := make([]string, 0, len(chars))
	for _, r := range chars {
		symbols = append(symbols, string(r))
	}
	return NewAlphabet(symbols)
}

// Default 默认字符集
func Default() *Alphabet {
	a, err := FromString(DefaultCharacters)
	if err != nil {
		panic(err)
	}
	return a
}

// LoadAlphabet 从字典文件加载字符集，每行一个字符，空行忽略
func LoadAlphabet(path string) (*Alphabet, error) {
	lines, err := util.LoadDict(path)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		symbols = append(symbols, line)
	}
	return NewAlphabet(symbols)
}

// Len 真实字符数量
func (a *Alphabet) Len() int {
	return len(a.symbols)
}

// NumClasses 模型输出类别数（字符数 + 空白符）
func (a *Alphabet) NumClasses() int {
	return len(a.symbols) + 1
}

// Symbol 返回类别索引对应的字符，空白符和越界索引返回 false
func (a *Alphabet) Symbol(idx int) (string, bool) {
	if idx <= Blank || idx > len(a.symbols) {
		return "", false
	}
	return a.symbols[idx-1], true
}

// Index 返回字符对应的类别索引
func (a *Alphabet) Index(symbol string) (int, bool) {
	idx, ok := a.index[symbol]
	return idx, ok
}
