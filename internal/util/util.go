package util

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// LoadDict 加载字典文件，每行一个条目
func LoadDict(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开字典文件 %s: %w", path, err)
	}
	defer file.Close()

	lines, err := ReadLines(file)
	if err != nil {
		return nil, fmt.Errorf("读取字典文件时出错: %w", err)
	}
	return lines, nil
}

// ReadLines 逐行读取，去掉行尾的 \r
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// ParseFloats 解析每行一个有限浮点数的文本，返回数值及被跳过的非法行数（含 NaN/Inf）
func ParseFloats(r io.Reader) ([]float64, int, error) {
	lines, err := ReadLines(r)
	if err != nil {
		return nil, 0, err
	}

	values := make([]float64, 0, len(lines))
	skipped := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			skipped++
			continue
		}
		values = append(values, v)
	}
	return values, skipped, nil
}
