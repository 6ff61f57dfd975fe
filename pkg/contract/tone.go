package contract

import (
	"fmt"
	"strings"
)

// StylisticTone: 封闭的语气标签集合。
// 扩展只需向 tones 追加成员，解析逻辑不变。
type StylisticTone string

const (
	ToneCasual        StylisticTone = "CASUAL"
	ToneFormal        StylisticTone = "FORMAL"
	ToneGrandiloquent StylisticTone = "GRANDILOQUENT"
)

// tones 为声明顺序（亦即错误消息与提示词中的列举顺序）。
var tones = []StylisticTone{ToneCasual, ToneFormal, ToneGrandiloquent}

// Tones 返回全部成员的副本（按声明顺序）。
func Tones() []StylisticTone {
	out := make([]StylisticTone, len(tones))
	copy(out, tones)
	return out
}

// String 返回规范名称。
func (t StylisticTone) String() string { return string(t) }

// Valid 报告 t 是否为已声明成员。
func (t StylisticTone) Valid() bool {
	for _, m := range tones {
		if m == t {
			return true
		}
	}
	return false
}

// ToneNames 返回以 ", " 连接的规范名称列表，例如 "CASUAL, FORMAL, GRANDILOQUENT"。
func ToneNames() string {
	names := make([]string, len(tones))
	for i, t := range tones {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// ParseTone 大小写不敏感地解析语气名称（忽略首尾空白）。
// 不匹配任何成员时返回 *InvalidToneError，Raw 保留原始输入。
func ParseTone(s string) (StylisticTone, error) {
	v := strings.TrimSpace(s)
	for _, t := range tones {
		if strings.EqualFold(v, string(t)) {
			return t, nil
		}
	}
	return "", &InvalidToneError{Raw: s}
}

// InvalidToneError: 模型返回值不属于语气集合。
// 消息格式固定，包含原始值与完整可选集合。
type InvalidToneError struct {
	Raw string
}

func (e *InvalidToneError) Error() string {
	return fmt.Sprintf("Invalid tone: '%s'. None of the values: '%s' were matched", e.Raw, ToneNames())
}

// Is 使 errors.Is(err, ErrInvalidTone) 成立。
func (e *InvalidToneError) Is(target error) bool { return target == ErrInvalidTone }
